package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wsgate/internal/client"
	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
	"github.com/muurk/wsgate/internal/ui"
)

var (
	dialTimeout      time.Duration
	dialWait         time.Duration
	dialSubprotocols []string
	dialFragmentSize int
	dialPing         bool
)

var dialCmd = &cobra.Command{
	Use:   "dial <url> [message...]",
	Short: "Connect to a WebSocket server and exchange messages",
	Long: `Connect to a WebSocket server, send text messages and print the replies.

Messages are taken from the remaining arguments. Without arguments, each
line read from stdin is sent as one message until EOF. After the last
message, replies are printed for --wait before the connection is closed
with a normal closure.

Supported URL schemes are ws:// and ws+unix:// (a socket path followed by
an optional ":/request/path").`,
	Example: `  # Send one message
  wsgate dial ws://localhost:8080 hello

  # Send lines from a file
  wsgate dial ws://localhost:8080/ws < messages.txt

  # Talk to a server on a unix socket
  wsgate dial ws+unix:///run/wsgate.sock ping`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().DurationVar(&dialTimeout, "timeout", 10*time.Second, "Connection timeout")
	dialCmd.Flags().DurationVar(&dialWait, "wait", time.Second, "How long to wait for replies after the last message")
	dialCmd.Flags().StringSliceVar(&dialSubprotocols, "subprotocol", nil, "Subprotocols to request")
	dialCmd.Flags().IntVar(&dialFragmentSize, "fragment-size", 0, "Fragment outgoing messages larger than this (0 = never)")
	dialCmd.Flags().BoolVar(&dialPing, "ping", false, "Send a ping after connecting")
}

func runDial(cmd *cobra.Command, args []string) error {
	if err := logging.InitializeFromEnv(); err != nil {
		return err
	}
	defer logging.Sync()

	rawURL := args[0]
	out := ui.NewTranscript(cmd.OutOrStdout())

	opts := client.DefaultOptions()
	opts.Session.Subprotocols = dialSubprotocols
	opts.Session.FragmentSize = dialFragmentSize

	ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
	c, err := client.Dial(ctx, rawURL, opts)
	cancel()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderFailure("Connection failed", err, []string{
			"Check that the server is running and the URL is correct",
			"Use 'wsgate discover' to find servers on the local network",
			"Plain HTTP and TLS endpoints (http://, wss://) are not supported",
		}))
		return err
	}

	if p := c.Subprotocol(); p != "" {
		out.Note("connected to %s (subprotocol %s)", rawURL, p)
	} else {
		out.Note("connected to %s", rawURL)
	}

	received := make(chan struct{})
	go func() {
		defer close(received)
		for msg := range c.Messages() {
			out.Print(ui.Received, msg.Opcode == protocol.OpcodeBinary, msg.Payload)
		}
	}()

	if dialPing {
		if err := c.Ping([]byte("wsgate")); err != nil {
			return err
		}
		out.Note("ping sent")
	}

	var sendErr error
	if len(args) > 1 {
		sendErr = sendAll(c, out, args[1:])
	} else {
		sendErr = sendLines(c, out, cmd.InOrStdin())
	}

	select {
	case <-c.Done():
	case <-time.After(dialWait):
		closeCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := c.CloseWith(closeCtx, protocol.CloseNormal, "")
		cancel()
		if err != nil {
			return fmt.Errorf("close failed: %w", err)
		}
	}
	<-received

	status, err := c.Status()
	out.Note("closed: %s", status)
	if sendErr != nil {
		return sendErr
	}
	if err != nil && !errors.Is(err, client.ErrClosed) {
		return err
	}
	return nil
}

func sendAll(c *client.Client, out *ui.Transcript, messages []string) error {
	for _, m := range messages {
		if err := c.SendText(m); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		out.Print(ui.Sent, false, []byte(m))
	}
	return nil
}

func sendLines(c *client.Client, out *ui.Transcript, r io.Reader) error {
	if r == os.Stdin && ui.IsTerminal() {
		out.Note("reading messages from stdin, Ctrl-D to finish")
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if err := c.SendText(line); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		out.Print(ui.Sent, false, []byte(line))
	}
	return scanner.Err()
}
