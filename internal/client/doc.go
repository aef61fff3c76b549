// Package client dials WebSocket servers.
//
// A Client owns a private event loop that runs its session. Received
// messages are queued without bound and handed to the Messages channel by a
// forwarding goroutine, so a slow reader never stalls the closing handshake.
//
//	c, err := client.Dial(ctx, "ws://localhost:8080/ws", client.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	_ = c.SendText("hello")
//	msg, err := c.Receive(ctx)
package client
