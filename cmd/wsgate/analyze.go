package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wsgate/internal/server"
	"github.com/muurk/wsgate/internal/ui"
)

var (
	analyzeDump bool
	analyzeConn uint64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.jsonl>",
	Short: "Summarize a message capture file",
	Long: `Summarize a capture file written by 'wsgate serve --analysis-dir'.

Messages are grouped per connection with counts by frame type and total
payload bytes. Use --dump to print a hex dump of every payload.`,
	Example: `  # Per-connection summary
  wsgate analyze captures/capture-20260102-030405.jsonl

  # Hex dump the messages of connection 3
  wsgate analyze captures/capture-20260102-030405.jsonl --conn 3 --dump`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDump, "dump", false, "Hex dump every payload")
	analyzeCmd.Flags().Uint64Var(&analyzeConn, "conn", 0, "Only show this connection id")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	var records []server.MessageAnalysis
	for rec, err := range server.ReadCapture(f) {
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %v\n", err)
			continue
		}
		if analyzeConn != 0 && rec.ConnID != analyzeConn {
			continue
		}
		records = append(records, rec)
	}

	fmt.Fprintf(out, "File: %s\n", args[0])
	fmt.Fprintf(out, "Messages: %d\n\n", len(records))

	for _, s := range server.Summarize(records) {
		fmt.Fprintf(out, "Connection %d (%s) trace %s\n", s.ConnID, s.RemoteAddr, s.TraceID)
		fmt.Fprintf(out, "  %d messages, %d bytes over %s\n", s.Messages, s.Bytes, s.Last.Sub(s.First).Round(time.Millisecond))
		fmt.Fprintf(out, "  %s\n\n", formatCounts(s.ByType))
	}

	if !analyzeDump {
		return nil
	}
	fmt.Fprintln(out, ui.RenderHorizontalDivider(ui.GetTerminalWidth(), "─"))
	for i := range records {
		rec := &records[i]
		payload, err := rec.Payload()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Message #%d: bad payload hex: %v\n", rec.MessageNum, err)
			continue
		}
		fmt.Fprintf(out, "Message #%d conn %d %s %s - %d bytes - %s\n",
			rec.MessageNum, rec.ConnID, rec.Direction, rec.FrameType, len(payload),
			rec.Timestamp.Format(time.RFC3339Nano))
		hexDump(out, payload)
		fmt.Fprintln(out)
	}
	return nil
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

// hexDump writes 16 bytes per line with an ASCII column.
func hexDump(w io.Writer, payload []byte) {
	for i := 0; i < len(payload); i += 16 {
		var b strings.Builder
		fmt.Fprintf(&b, "%04x  ", i)
		for j := 0; j < 16; j++ {
			if i+j < len(payload) {
				fmt.Fprintf(&b, "%02x ", payload[i+j])
			} else {
				b.WriteString("   ")
			}
			if j == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for j := 0; j < 16 && i+j < len(payload); j++ {
			c := payload[i+j]
			if c < 32 || c > 126 {
				c = '.'
			}
			b.WriteByte(c)
		}
		b.WriteString("|")
		fmt.Fprintln(w, b.String())
	}
}
