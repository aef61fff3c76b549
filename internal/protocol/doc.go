// Package protocol implements the WebSocket wire format (RFC 6455).
//
// It has three parts:
//
//   - Frame encoding: EncodeFrame, EncodeMessage and Mask produce bit-exact
//     frames with 7, 16 or 64-bit lengths, optionally masked.
//   - Frame decoding: Decoder accepts input in arbitrary chunks and yields
//     frames once they are complete. MessageReader reassembles fragmented
//     messages on top of it and passes control frames through immediately.
//   - The opening handshake: Negotiate decides whether an HTTP request is an
//     upgrade, ComputeAcceptKey derives Sec-WebSocket-Accept, and
//     BuildUpgradeRequest/VerifyUpgradeResponse drive the client side.
//
// Peer violations are reported as *ProtocolError carrying the close status
// that should be sent back:
//
//	for msg, err := range reader.Messages() {
//	    if err != nil {
//	        code := protocol.CloseCodeFor(err)
//	        // send close frame with code, then drop the connection
//	        break
//	    }
//	    handle(msg)
//	}
//
// Nothing in this package performs I/O on its own; callers feed bytes in
// and write the produced bytes out.
package protocol
