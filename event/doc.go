// Package event carries notifications from the lanphone core to the
// presentation layer and carries accept/reject decisions back.
//
// Notifications are published on a Bus, an unbounded FIFO that never blocks
// the publisher. A slow or absent consumer therefore cannot stall a call's
// signaling reader or audio loops. Consumers either range over Bus.C or hand
// the channel to Dispatch with a Listener implementation.
//
// Decisions that need an answer (accept an incoming call or chat) go through
// the Decider interface. Decide bounds every decision with a timeout, and an
// unanswered decision counts as a rejection.
package event
