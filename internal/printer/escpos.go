package printer

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// ESC/POS control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	FS  byte = 0x1C
)

// utf8CodeSystem is the FS C argument that switches multi-byte text to UTF-8
const utf8CodeSystem byte = 0xFF

// ESCPOSEncoder builds ESC/POS command frames
type ESCPOSEncoder struct {
	buffer *bytes.Buffer
}

// NewESCPOSEncoder creates a new ESC/POS encoder
func NewESCPOSEncoder() *ESCPOSEncoder {
	return &ESCPOSEncoder{
		buffer: new(bytes.Buffer),
	}
}

// Initialize resets the printer to its power-on state (ESC @)
func (e *ESCPOSEncoder) Initialize() *ESCPOSEncoder {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('@')
	return e
}

// MultiByteMode enables multi-byte character mode (FS &)
func (e *ESCPOSEncoder) MultiByteMode() *ESCPOSEncoder {
	e.buffer.WriteByte(FS)
	e.buffer.WriteByte('&')
	return e
}

// UTF8Encoding selects UTF-8 for multi-byte text (FS C n)
func (e *ESCPOSEncoder) UTF8Encoding() *ESCPOSEncoder {
	e.buffer.WriteByte(FS)
	e.buffer.WriteByte('C')
	e.buffer.WriteByte(utf8CodeSystem)
	return e
}

// Text appends text as UTF-8. Invalid sequences become U+FFFD.
func (e *ESCPOSEncoder) Text(text string) *ESCPOSEncoder {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	e.buffer.WriteString(text)
	return e
}

// FeedLines prints the buffer and feeds n lines (ESC d n)
func (e *ESCPOSEncoder) FeedLines(n int) *ESCPOSEncoder {
	if n < 0 {
		n = 0
	}
	if n > 255 {
		n = 255
	}
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('d')
	e.buffer.WriteByte(byte(n))
	return e
}

// Cut sends a full paper cut (GS V 0)
func (e *ESCPOSEncoder) Cut() *ESCPOSEncoder {
	e.buffer.WriteByte(GS)
	e.buffer.WriteByte('V')
	e.buffer.WriteByte(0)
	return e
}

// Bytes returns the frames built so far and clears the encoder
func (e *ESCPOSEncoder) Bytes() []byte {
	out := make([]byte, e.buffer.Len())
	copy(out, e.buffer.Bytes())
	e.buffer.Reset()
	return out
}

// ResetCommand is the device reset frame
func ResetCommand() []byte {
	return NewESCPOSEncoder().Initialize().Bytes()
}

// SelectUTF8Command enables multi-byte mode and selects UTF-8
func SelectUTF8Command() []byte {
	return NewESCPOSEncoder().MultiByteMode().UTF8Encoding().Bytes()
}

// TextPayload returns text encoded as UTF-8
func TextPayload(text string) []byte {
	return NewESCPOSEncoder().Text(text).Bytes()
}

// FeedCommand feeds n lines, optionally followed by a full cut
func FeedCommand(lines int, cut bool) []byte {
	e := NewESCPOSEncoder().FeedLines(lines)
	if cut {
		e.Cut()
	}
	return e.Bytes()
}
