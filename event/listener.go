package event

import (
	"context"
	"time"
)

// Listener receives notifications as method calls.
type Listener interface {
	OnCallActive(remote string, degraded bool)
	OnCallEnded(remote string, initiatedByRemote bool)
	OnCallFailed(remote string, err error)
	OnAudioDetected(remote string, at time.Time)
	OnChatOpened(remote string)
	OnChatMessage(remote, text string)
	OnChatClosed(remote string)
	OnVoiceMessageReceived(fileName, remote string, complete bool)
}

// NopListener implements Listener with empty methods. Embed it to handle a
// subset of notifications.
type NopListener struct{}

func (NopListener) OnCallActive(string, bool)                   {}
func (NopListener) OnCallEnded(string, bool)                    {}
func (NopListener) OnCallFailed(string, error)                  {}
func (NopListener) OnAudioDetected(string, time.Time)           {}
func (NopListener) OnChatOpened(string)                         {}
func (NopListener) OnChatMessage(string, string)                {}
func (NopListener) OnChatClosed(string)                         {}
func (NopListener) OnVoiceMessageReceived(string, string, bool) {}

// Dispatch delivers events from ch to l until ch is closed or ctx is done.
// Events without a Listener method are skipped.
func Dispatch(ctx context.Context, ch <-chan Event, l Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			deliver(e, l)
		}
	}
}

func deliver(e Event, l Listener) {
	switch e.Type {
	case TypeCallActive:
		l.OnCallActive(e.Remote, e.Degraded)
	case TypeCallEnded:
		l.OnCallEnded(e.Remote, e.InitiatedByRemote)
	case TypeCallFailed:
		l.OnCallFailed(e.Remote, e.Err)
	case TypeAudioDetected:
		l.OnAudioDetected(e.Remote, e.Time)
	case TypeChatOpened:
		l.OnChatOpened(e.Remote)
	case TypeChatMessage:
		l.OnChatMessage(e.Remote, e.Text)
	case TypeChatClosed:
		l.OnChatClosed(e.Remote)
	case TypeVoiceMessageReceived:
		l.OnVoiceMessageReceived(e.FileName, e.Remote, e.Complete)
	}
}
