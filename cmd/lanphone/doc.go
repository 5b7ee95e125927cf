// Package main provides the lanphone command: a LAN calling endpoint with a
// line-oriented console.
//
// Usage:
//
//	lanphone [--config lanphone.yaml] [--device portaudio] [--auto-accept-calls]
//
// Type "help" at the prompt for the list of commands.
package main
