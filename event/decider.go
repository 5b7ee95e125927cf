package event

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDecisionTimeout bounds how long an incoming request waits for an answer.
const DefaultDecisionTimeout = 30 * time.Second

// Decider answers incoming call and chat requests. Implementations may block
// (for example on user input) but must honor ctx.
type Decider interface {
	DecideCall(ctx context.Context, remote string) bool
	DecideChat(ctx context.Context, remote string) bool
}

// Static answers every request with fixed values.
type Static struct {
	AcceptCalls bool
	AcceptChats bool
}

// DecideCall returns AcceptCalls.
func (s Static) DecideCall(context.Context, string) bool { return s.AcceptCalls }

// DecideChat returns AcceptChats.
func (s Static) DecideChat(context.Context, string) bool { return s.AcceptChats }

// AcceptAll accepts every call and chat request.
func AcceptAll() Decider { return Static{AcceptCalls: true, AcceptChats: true} }

// RejectAll rejects every call and chat request.
func RejectAll() Decider { return Static{} }

// Funcs adapts plain functions to Decider. A nil function rejects.
type Funcs struct {
	Call func(ctx context.Context, remote string) bool
	Chat func(ctx context.Context, remote string) bool
}

// DecideCall invokes Call.
func (f Funcs) DecideCall(ctx context.Context, remote string) bool {
	if f.Call == nil {
		return false
	}
	return f.Call(ctx, remote)
}

// DecideChat invokes Chat.
func (f Funcs) DecideChat(ctx context.Context, remote string) bool {
	if f.Chat == nil {
		return false
	}
	return f.Chat(ctx, remote)
}

// Decide runs ask on its own goroutine and waits at most timeout for the
// answer. A timeout, a cancelled ctx or a panic in ask yields false.
func Decide(ctx context.Context, timeout time.Duration, ask func(ctx context.Context) bool) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Decide",
					"panic":    r,
				}).Error("Decider panicked, rejecting")
				answer <- false
			}
		}()
		answer <- ask(ctx)
	}()

	select {
	case ok := <-answer:
		return ok
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"function": "Decide",
			"timeout":  timeout,
		}).Warn("Decision not answered in time, rejecting")
		return false
	}
}
