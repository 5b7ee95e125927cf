package main

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// promptDecider asks the console user to accept or reject inbound calls
// and chats. One question is outstanding at a time; a second request while
// one is pending is rejected.
type promptDecider struct {
	out io.Writer

	mu      sync.Mutex
	pending chan bool
}

func newPromptDecider(out io.Writer) *promptDecider {
	return &promptDecider{out: out}
}

func (d *promptDecider) DecideCall(ctx context.Context, remote string) bool {
	return d.ask(ctx, fmt.Sprintf("incoming call from %s, accept or reject?", remote))
}

func (d *promptDecider) DecideChat(ctx context.Context, remote string) bool {
	return d.ask(ctx, fmt.Sprintf("chat request from %s, accept or reject?", remote))
}

func (d *promptDecider) ask(ctx context.Context, question string) bool {
	answer := make(chan bool, 1)
	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return false
	}
	d.pending = answer
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.pending == answer {
			d.pending = nil
		}
		d.mu.Unlock()
	}()

	fmt.Fprintln(d.out, question)
	select {
	case ok := <-answer:
		return ok
	case <-ctx.Done():
		fmt.Fprintln(d.out, "no answer, rejected")
		return false
	}
}

// answer resolves the pending question. It reports false if none is pending.
func (d *promptDecider) answer(accept bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	d.pending <- accept
	d.pending = nil
	return true
}
