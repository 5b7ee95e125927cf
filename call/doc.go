// Package call implements the voice call state machine and the signaling
// that drives it.
//
// # States
//
//	IDLE ──dial──> DIALING ──DIAL_ACCEPT──> ACTIVE ──CALL_END/EOF/error──> ENDED
//	  │               └──reject/timeout/error──> IDLE
//	  └──DIAL_REQUEST──> RINGING ──accept──> ACTIVE
//	                        └──reject──> IDLE
//
// ENDED is absorbing. At most one session exists per Manager; a dial while
// any session exists fails with ErrBusy, and a DIAL_REQUEST that arrives
// while a call is active is answered DIAL_REJECT without consulting the
// Decider.
//
// # Teardown
//
// An active session ends when the local side hangs up, when the peer sends
// CALL_END, when the signaling connection drops, or when the audio socket
// fails. All four paths funnel into one teardown that runs exactly once: it
// stops the audio engine, closes both sockets, waits for the signaling
// reader and publishes a single CallEnded event whose InitiatedByRemote flag
// tells the two directions apart.
//
// # Dial Collision
//
// When both peers dial each other at the same moment, the endpoint whose
// address and call port sort lower keeps its outbound dial and rejects the
// inbound request. The other endpoint abandons its dial with
// ErrDialCollision and accepts the inbound request without asking its
// Decider, so exactly one call results.
package call
