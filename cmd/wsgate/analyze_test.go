package main

import (
	"bytes"
	"testing"
)

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	hexDump(&buf, []byte("hello, websocket\x00\x01"))

	want := "0000  68 65 6c 6c 6f 2c 20 77  65 62 73 6f 63 6b 65 74  |hello, websocket|\n" +
		"0010  00 01                                             |..|\n"
	if buf.String() != want {
		t.Errorf("hexDump() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestFormatCounts(t *testing.T) {
	got := formatCounts(map[string]int{"text": 3, "binary": 1})
	if got != "binary: 1, text: 3" {
		t.Errorf("formatCounts() = %q", got)
	}
}
