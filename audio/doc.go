// Package audio streams raw PCM between two peers during an active call.
//
// # Overview
//
// Frames are fixed-format PCM: 8000 Hz, signed 16-bit little-endian, mono.
// One frame of 512 samples (1024 bytes, 64 ms) travels in one UDP datagram
// with no header, sequence number or retransmission.
//
// # Engine
//
// An Engine owns the call's UDP socket and runs two loops:
//
//   - The send loop reads frames from the capture device and writes each as
//     a datagram to the remote peer. While muted it keeps draining the device
//     but sends nothing.
//
//   - The receive loop polls the socket with a short read deadline, drops
//     datagrams from any host other than the remote peer, plays accepted
//     frames and runs voice activity detection.
//
// Stop cancels both loops, closes the socket and waits for the loops to
// return, so the port is free for an immediate redial.
//
// # Voice Activity Detection
//
// Detector compares the average absolute sample amplitude of a frame with a
// threshold. The first frame above the threshold in a session produces one
// AudioDetected event. Later frames in the same session produce none.
//
// # Devices
//
// Device abstracts the sound hardware. NullDevice produces paced silence and
// discards playback; the portaudio subpackage drives real hardware when built
// with the portaudio tag. When capture cannot be opened the call continues
// in degraded mode without outbound audio.
//
// # Recording
//
// Recorder captures frames into a WAV file for store-and-forward voice messages.
package audio
