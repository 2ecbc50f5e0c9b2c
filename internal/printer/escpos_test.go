package printer

import (
	"bytes"
	"testing"
)

func TestESCPOSEncoder_Frames(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"reset", ResetCommand(), []byte{0x1B, '@'}},
		{"select utf8", SelectUTF8Command(), []byte{0x1C, '&', 0x1C, 'C', 0xFF}},
		{"feed", FeedCommand(3, false), []byte{0x1B, 'd', 3}},
		{"feed and cut", FeedCommand(3, true), []byte{0x1B, 'd', 3, 0x1D, 'V', 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("Expected % X, got % X", tt.want, tt.got)
			}
		})
	}
}

func TestFeedLines_Clamped(t *testing.T) {
	if got := NewESCPOSEncoder().FeedLines(-2).Bytes(); got[2] != 0 {
		t.Errorf("Expected negative feed clamped to 0, got %d", got[2])
	}
	if got := NewESCPOSEncoder().FeedLines(1000).Bytes(); got[2] != 255 {
		t.Errorf("Expected large feed clamped to 255, got %d", got[2])
	}
}

func TestTextPayload_UTF8(t *testing.T) {
	got := TextPayload("Café ☕ 你好")
	if string(got) != "Café ☕ 你好" {
		t.Errorf("Expected UTF-8 passthrough, got %q", got)
	}

	invalid := TextPayload("ok\xffok")
	if string(invalid) != "ok�ok" {
		t.Errorf("Expected invalid byte replaced, got %q", invalid)
	}
}

func TestBytes_ClearsBuffer(t *testing.T) {
	e := NewESCPOSEncoder().Initialize()
	first := e.Bytes()
	second := e.Bytes()

	if len(first) != 2 {
		t.Errorf("Expected 2 bytes, got %d", len(first))
	}
	if len(second) != 0 {
		t.Errorf("Expected empty buffer after Bytes, got % X", second)
	}
}
