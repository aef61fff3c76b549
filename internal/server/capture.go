package server

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
)

// MessageAnalysis is one captured message in the JSONL analysis file.
type MessageAnalysis struct {
	Timestamp    time.Time `json:"timestamp"`
	MessageNum   uint64    `json:"message_num"`
	ConnID       uint64    `json:"conn_id"`
	TraceID      string    `json:"trace_id"`
	RemoteAddr   string    `json:"remote_addr"`
	Direction    string    `json:"direction"`
	FrameType    string    `json:"frame_type"`
	Opcode       byte      `json:"opcode"`
	PayloadLen   int       `json:"payload_length"`
	PayloadHex   string    `json:"payload_hex"`
	PayloadASCII string    `json:"payload_ascii"`
}

// Capture appends MessageAnalysis records to capture-<start time>.jsonl in
// a directory. A nil *Capture records nothing.
type Capture struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	path     string
	messages uint64
}

// NewCapture opens a new capture file in dir. An empty dir disables
// capture and returns nil.
func NewCapture(dir string) (*Capture, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create analysis directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open analysis file: %w", err)
	}
	logging.Info("Capturing messages for analysis", zap.String("filename", path))
	return &Capture{file: f, enc: json.NewEncoder(f), path: path}, nil
}

// Path returns the capture file path.
func (c *Capture) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Record appends one message.
func (c *Capture) Record(connID uint64, traceID, remoteAddr, direction string, op protocol.Opcode, payload []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return
	}

	c.messages++
	rec := MessageAnalysis{
		Timestamp:    time.Now(),
		MessageNum:   c.messages,
		ConnID:       connID,
		TraceID:      traceID,
		RemoteAddr:   remoteAddr,
		Direction:    direction,
		FrameType:    op.String(),
		Opcode:       byte(op),
		PayloadLen:   len(payload),
		PayloadHex:   hex.EncodeToString(payload),
		PayloadASCII: toASCII(payload),
	}
	if err := c.enc.Encode(&rec); err != nil {
		logging.Error("Failed to write to analysis file",
			zap.String("filename", c.path),
			zap.Error(err),
		)
		return
	}

	logging.Debug("Saved message to analysis file",
		zap.String("filename", c.path),
		zap.Uint64("message_num", c.messages),
	)
}

// Close flushes and closes the capture file.
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// toASCII converts bytes to an ASCII string (non-printable chars become '.')
func toASCII(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// ReadCapture yields the records of a capture file in order. A line that
// cannot be decoded is yielded as an error with its line number; iteration
// continues with the next line.
func ReadCapture(r io.Reader) iter.Seq2[MessageAnalysis, error] {
	return func(yield func(MessageAnalysis, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var rec MessageAnalysis
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				if !yield(MessageAnalysis{}, fmt.Errorf("line %d: %w", line, err)) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(MessageAnalysis{}, err)
		}
	}
}

// Payload decodes the captured payload bytes.
func (m *MessageAnalysis) Payload() ([]byte, error) {
	return hex.DecodeString(m.PayloadHex)
}

// ConnSummary aggregates the captured messages of one connection.
type ConnSummary struct {
	ConnID     uint64
	TraceID    string
	RemoteAddr string
	First      time.Time
	Last       time.Time
	Messages   int
	Bytes      int
	ByType     map[string]int
}

// Summarize groups records by connection, ordered by connection id.
func Summarize(records []MessageAnalysis) []*ConnSummary {
	byConn := make(map[uint64]*ConnSummary)
	for _, rec := range records {
		s, ok := byConn[rec.ConnID]
		if !ok {
			s = &ConnSummary{
				ConnID:     rec.ConnID,
				TraceID:    rec.TraceID,
				RemoteAddr: rec.RemoteAddr,
				First:      rec.Timestamp,
				ByType:     make(map[string]int),
			}
			byConn[rec.ConnID] = s
		}
		if rec.Timestamp.Before(s.First) {
			s.First = rec.Timestamp
		}
		if rec.Timestamp.After(s.Last) {
			s.Last = rec.Timestamp
		}
		s.Messages++
		s.Bytes += rec.PayloadLen
		s.ByType[rec.FrameType]++
	}

	out := make([]*ConnSummary, 0, len(byConn))
	for _, s := range byConn {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}
