// Package server runs the three TCP signaling listeners of a lanphone
// endpoint: call control, voice messages and chat.
//
// Each accepted connection is admitted against a per-listener ceiling,
// its first line is read under a header timeout, and the connection is
// then handed to the listener's Handler together with that line. Handlers
// take ownership of the connection.
//
//	srv := server.New(server.Config{
//	    CallPort: 8081, VoiceMessagePort: 8182, ChatPort: 8283,
//	    Call: calls, VoiceMessage: receiver, Chat: chats,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
package server
