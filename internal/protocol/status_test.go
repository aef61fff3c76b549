package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestClosePayloadRoundTrip(t *testing.T) {
	p := EncodeClosePayload(CloseGoingAway, "server restart")
	st, err := ParseClosePayload(p)
	if err != nil {
		t.Fatalf("ParseClosePayload() error = %v", err)
	}
	if st.Code != CloseGoingAway || st.Reason != "server restart" {
		t.Errorf("ParseClosePayload() = %v", st)
	}
}

func TestEncodeClosePayloadLimits(t *testing.T) {
	if p := EncodeClosePayload(CloseNoStatus, "ignored"); len(p) != 0 {
		t.Errorf("no-status payload = %v, want empty", p)
	}
	p := EncodeClosePayload(CloseNormal, strings.Repeat("r", 300))
	if len(p) != MaxControlPayload {
		t.Errorf("payload length = %d, want %d", len(p), MaxControlPayload)
	}

	// 123 bytes would end inside a two byte rune.
	p = EncodeClosePayload(CloseNormal, strings.Repeat("é", 100))
	if len(p) != 2+122 {
		t.Errorf("payload length = %d, want %d", len(p), 2+122)
	}
	st, err := ParseClosePayload(p)
	if err != nil {
		t.Fatalf("ParseClosePayload() error = %v", err)
	}
	if st.Reason != strings.Repeat("é", 61) {
		t.Errorf("reason = %q, want 61 runes", st.Reason)
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    StatusCode
		errCode StatusCode
	}{
		{"empty", nil, CloseNoStatus, 0},
		{"one byte", []byte{0x03}, 0, CloseProtocolError},
		{"normal", []byte{0x03, 0xE8}, CloseNormal, 0},
		{"reserved 1005 on wire", []byte{0x03, 0xED}, 0, CloseProtocolError},
		{"unassigned 1016", []byte{0x03, 0xF8}, 0, CloseProtocolError},
		{"below range", []byte{0x00, 0x10}, 0, CloseProtocolError},
		{"application", []byte{0x0B, 0xB9}, CloseClientTimerError, 0},
		{"private", []byte{0x0F, 0xA0}, 4000, 0},
		{"bad reason", []byte{0x03, 0xE8, 0xFF}, 0, CloseInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := ParseClosePayload(tt.payload)
			if tt.errCode != 0 {
				var perr *ProtocolError
				if !errors.As(err, &perr) || perr.Code != tt.errCode {
					t.Fatalf("ParseClosePayload() error = %v, want code %d", err, tt.errCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClosePayload() error = %v", err)
			}
			if st.Code != tt.want {
				t.Errorf("Code = %d, want %d", st.Code, tt.want)
			}
		})
	}
}

func TestStatusRanges(t *testing.T) {
	tests := []struct {
		code                       StatusCode
		notUsed, public, iana, usr bool
	}{
		{500, true, false, false, false},
		{1000, false, true, false, false},
		{2999, false, true, false, false},
		{3000, false, false, true, false},
		{4999, false, false, false, true},
		{5000, false, false, false, false},
	}
	for _, tt := range tests {
		if tt.code.IsNotUsed() != tt.notUsed || tt.code.IsPublicSpecification() != tt.public ||
			tt.code.IsIANA() != tt.iana || tt.code.IsUserDefined() != tt.usr {
			t.Errorf("range checks wrong for %d", tt.code)
		}
	}
	if CloseClientTimerError.String() != "Client timer error" {
		t.Errorf("String() = %q", CloseClientTimerError.String())
	}
}
