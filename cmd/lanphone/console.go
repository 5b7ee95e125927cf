package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/call"
	"github.com/opd-ai/lanphone/chat"
)

// phoneAPI is the part of lanphone.Phone the console drives.
type phoneAPI interface {
	Dial(ctx context.Context, remote string) error
	Hangup() error
	SetMuted(muted bool)
	Muted() bool
	SetPlaybackGain(gain float64) error
	CallState() call.State
	RequestChat(ctx context.Context, remote string) error
	SendChat(text string) error
	CloseChat() error
	ChatState() chat.State
	RecordVoiceMessage(ctx context.Context, name string, maxDuration time.Duration) (string, int64, error)
	SendVoiceMessage(ctx context.Context, remote, name string) (int64, error)
	VoiceMessages() ([]string, error)
	Recordings() ([]string, error)
	LocalAddress() string
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// MaxRecordDuration caps the record command.
const MaxRecordDuration = 5 * time.Minute

// console executes commands read from an input stream.
type console struct {
	phone   phoneAPI
	prompts *promptDecider

	outMu sync.Mutex
	out   io.Writer
}

func newConsole(phone phoneAPI, prompts *promptDecider, out io.Writer) *console {
	return &console{phone: phone, prompts: prompts, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands until EOF, quit or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("lanphone at %s, type help for commands\n", c.phone.LocalAddress())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("error: %v\n", err)
			}
		}
	}
}

// execute runs one command line.
func (c *console) execute(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "help", "?":
		c.printf("%s", helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "call":
		if len(args) != 1 {
			return errors.New("usage: call <address>")
		}
		c.printf("calling %s...\n", args[0])
		return c.phone.Dial(ctx, args[0])
	case "hangup":
		return c.phone.Hangup()
	case "mute":
		c.phone.SetMuted(true)
		c.printf("microphone muted\n")
		return nil
	case "unmute":
		c.phone.SetMuted(false)
		c.printf("microphone live\n")
		return nil
	case "volume":
		if len(args) != 1 {
			return errors.New("usage: volume <gain 0-4>")
		}
		gain, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("volume: %w", err)
		}
		return c.phone.SetPlaybackGain(gain)
	case "accept", "reject":
		if c.prompts == nil || !c.prompts.answer(cmd == "accept") {
			return errors.New("nothing to answer")
		}
		return nil
	case "chat":
		if len(args) != 1 {
			return errors.New("usage: chat <address>")
		}
		return c.phone.RequestChat(ctx, args[0])
	case "say":
		return c.phone.SendChat(rest)
	case "endchat":
		return c.phone.CloseChat()
	case "record":
		if len(args) != 2 {
			return errors.New("usage: record <name> <seconds>")
		}
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds <= 0 {
			return errors.New("record: seconds must be a positive integer")
		}
		d := time.Duration(seconds) * time.Second
		if d > MaxRecordDuration {
			d = MaxRecordDuration
		}
		path, n, err := c.phone.RecordVoiceMessage(ctx, args[0], d)
		if err != nil {
			return err
		}
		c.printf("recorded %d bytes to %s\n", n, path)
		return nil
	case "send":
		if len(args) != 2 {
			return errors.New("usage: send <address> <name>")
		}
		n, err := c.phone.SendVoiceMessage(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		c.printf("sent %d bytes\n", n)
		return nil
	case "messages":
		inbox, err := c.phone.VoiceMessages()
		if err != nil {
			return err
		}
		outbox, err := c.phone.Recordings()
		if err != nil {
			return err
		}
		c.printf("received: %s\nrecorded: %s\n", listOrNone(inbox), listOrNone(outbox))
		return nil
	case "status":
		c.printf("call %s, chat %s, muted %t\n", c.phone.CallState(), c.phone.ChatState(), c.phone.Muted())
		return nil
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

const helpText = `commands:
  call <address>          place a call
  hangup                  end or cancel the call
  mute | unmute           toggle the microphone
  volume <gain>           set playback gain (0-4)
  accept | reject         answer an incoming call or chat
  chat <address>          open a chat
  say <text>              send a chat message
  endchat                 close the chat
  record <name> <secs>    record a voice message
  send <address> <name>   send a recorded voice message
  messages                list voice messages
  status                  show call and chat state
  quit
`
