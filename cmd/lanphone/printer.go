package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// printer writes notifications to the console.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) OnCallActive(remote string, degraded bool) {
	if degraded {
		p.printf("call with %s active (no microphone, listening only)\n", remote)
		return
	}
	p.printf("call with %s active\n", remote)
}

func (p *printer) OnCallEnded(remote string, initiatedByRemote bool) {
	if initiatedByRemote {
		p.printf("%s ended the call\n", remote)
		return
	}
	p.printf("call with %s ended\n", remote)
}

func (p *printer) OnCallFailed(remote string, err error) {
	p.printf("call to %s failed: %v\n", remote, err)
}

func (p *printer) OnAudioDetected(remote string, at time.Time) {
	p.printf("hearing %s (%s)\n", remote, at.Format(time.TimeOnly))
}

func (p *printer) OnChatOpened(remote string) {
	p.printf("chat with %s open\n", remote)
}

func (p *printer) OnChatMessage(remote, text string) {
	p.printf("<%s> %s\n", remote, text)
}

func (p *printer) OnChatClosed(remote string) {
	p.printf("chat with %s closed\n", remote)
}

func (p *printer) OnVoiceMessageReceived(fileName, remote string, complete bool) {
	if !complete {
		p.printf("incomplete voice message %q from %s kept as partial\n", fileName, remote)
		return
	}
	p.printf("voice message %q from %s\n", fileName, remote)
}
