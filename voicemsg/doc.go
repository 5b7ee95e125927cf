// Package voicemsg implements store-and-forward voice message delivery.
//
// A voice message is a single TCP exchange on the voice message port. The
// sender writes a header and then the raw file bytes:
//
//	AUDIO_MESSAGE
//	<file name>
//	<decimal byte size>
//	<payload>
//
// Receivers also accept the older header without the AUDIO_MESSAGE line.
//
// The receiver reads exactly the declared number of bytes and never past
// them. If the stream ends early the bytes received so far are still stored,
// with a ".partial" suffix, and the Result reports Complete == false together
// with ErrIncomplete. A malformed header is a protocol error and stores
// nothing.
//
// Example:
//
//	store := voicemsg.NewStore(afero.NewOsFs(), "audio_messages")
//	n, err := voicemsg.SendFile(ctx, "192.168.1.20:8182", store, "hello.wav")
package voicemsg
