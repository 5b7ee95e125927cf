// Package lanphone implements a peer-to-peer voice and text endpoint for a
// local network.
//
// A Phone listens on three TCP signaling ports (calls, voice messages and
// chat) and, while a call is active, streams raw PCM audio over UDP. There
// is no server, registrar or directory: peers are addressed by IP.
//
// # Getting Started
//
//	opts := lanphone.NewOptions()
//	opts.Decider = event.AcceptAll()
//
//	phone, err := lanphone.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := phone.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer phone.Kill()
//
//	go event.Dispatch(ctx, phone.Events(), myListener)
//
//	if err := phone.Dial(ctx, "192.168.1.20"); err != nil {
//	    log.Printf("call failed: %v", err)
//	}
//
// # Sessions
//
// At most one call and at most one chat exist at a time, independently of
// each other. A second inbound call while one is in progress is rejected
// without asking the Decider. Call and chat lifecycles are reported on the
// channel returned by Events; the channel never blocks the endpoint.
//
// # Audio
//
// Audio frames are 1024 bytes of 8 kHz signed 16-bit little-endian mono PCM,
// one frame per datagram. The receive path runs a simple energy detector and
// reports the first frame of speech in each call. Without a capture device
// the call still connects in degraded mode and only plays received audio.
//
// # Voice Messages
//
// Recorded WAV files are delivered to a peer's voice message port in one
// TCP exchange and stored under the configured directory with a timestamp
// prefix. Transfers that end early are kept with a ".partial" suffix.
package lanphone
