package wsengine

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestHeaderLen(t *testing.T) {
	tests := []struct {
		length int
		masked bool
		want   int
	}{
		{0, false, 2},
		{125, false, 2},
		{126, false, 4},
		{math.MaxUint16, false, 4},
		{math.MaxUint16 + 1, false, 10},
		{0, true, 6},
		{126, true, 8},
		{math.MaxUint16 + 1, true, 14},
	}

	for _, tt := range tests {
		if got := HeaderLen(tt.length, tt.masked); got != tt.want {
			t.Errorf("HeaderLen(%d, %v) = %d, want %d", tt.length, tt.masked, got, tt.want)
		}
	}
}

func TestPutHeader(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		want []byte
	}{
		{
			name: "7-bit length",
			h:    Header{FIN: true, Opcode: OpcodeText, Length: 5},
			want: []byte{0x81, 0x05},
		},
		{
			name: "16-bit length",
			h:    Header{FIN: true, Opcode: OpcodeBinary, Length: 130},
			want: []byte{0x82, 126, 0x00, 0x82},
		},
		{
			name: "64-bit length",
			h:    Header{Opcode: OpcodeBinary, Length: 65536},
			want: []byte{0x02, 127, 0, 0, 0, 0, 0, 0x01, 0x00, 0x00},
		},
		{
			name: "masked with rsv1",
			h:    Header{FIN: true, RSV1: true, Opcode: OpcodeText, Masked: true, Key: [4]byte{1, 2, 3, 4}, Length: 1},
			want: []byte{0xC1, 0x81, 1, 2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]byte, MaxHeaderLen)
			n := PutHeader(dst, tt.h)
			if !bytes.Equal(dst[:n], tt.want) {
				t.Errorf("PutHeader() = % x, want % x", dst[:n], tt.want)
			}
			if n != HeaderLen(tt.h.Length, tt.h.Masked) {
				t.Errorf("PutHeader() wrote %d bytes, HeaderLen says %d", n, HeaderLen(tt.h.Length, tt.h.Masked))
			}
		})
	}
}

func TestHeaderDecoderSplitInput(t *testing.T) {
	headers := []Header{
		{FIN: true, Opcode: OpcodeText, Length: 0},
		{FIN: true, Opcode: OpcodeBinary, Length: 130},
		{FIN: false, Opcode: OpcodeText, Length: 70000},
		{FIN: true, Opcode: OpcodeBinary, Masked: true, Key: [4]byte{9, 8, 7, 6}, Length: 300},
		{FIN: true, Opcode: OpcodePing, Masked: true, Key: [4]byte{1, 2, 3, 4}, Length: 125},
	}

	for _, h := range headers {
		wire := make([]byte, MaxHeaderLen)
		wire = wire[:PutHeader(wire, h)]

		for _, chunk := range []int{1, 2, 3, len(wire)} {
			hd := headerDecoder{expectMasked: h.Masked}
			var ok bool
			for off := 0; off < len(wire); off += chunk {
				end := min(off+chunk, len(wire))
				n, done, err := hd.feed(wire[off:end])
				if err != nil {
					t.Fatalf("feed() error = %v", err)
				}
				if n != end-off {
					t.Fatalf("feed() consumed %d, want %d", n, end-off)
				}
				ok = done
			}

			if !ok {
				t.Fatalf("header %+v not complete after %d bytes (chunk %d)", h, len(wire), chunk)
			}
			if hd.h != h {
				t.Errorf("decoded %+v, want %+v (chunk %d)", hd.h, h, chunk)
			}
		}
	}
}

func TestHeaderDecoderStopsAtPayload(t *testing.T) {
	hd := headerDecoder{}
	n, ok, err := hd.feed([]byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'})
	if err != nil || !ok {
		t.Fatalf("feed() = %v, %v", ok, err)
	}
	if n != 2 {
		t.Errorf("feed() consumed %d bytes, want 2", n)
	}
	if hd.h.Length != 5 {
		t.Errorf("Length = %d, want 5", hd.h.Length)
	}
}

func TestHeaderDecoderValidation(t *testing.T) {
	tests := []struct {
		name         string
		input        []byte
		expectMasked bool
		allowRSV1    bool
		want         error
	}{
		{
			name:  "reserved opcode",
			input: []byte{0x83, 0x00},
			want:  ErrInvalidOPCODE,
		},
		{
			name:  "rsv2 set",
			input: []byte{0xA1, 0x00},
			want:  ErrUnnegotiatedRsvBits,
		},
		{
			name:  "rsv1 without extension",
			input: []byte{0xC1, 0x00},
			want:  ErrUnnegotiatedRsvBits,
		},
		{
			name:  "fragmented control frame",
			input: []byte{0x09, 0x00},
			want:  ErrInvalidControlFrame,
		},
		{
			name:  "control frame too long",
			input: []byte{0x89, 126, 0x00, 0x7E},
			want:  ErrInvalidControlFrame,
		},
		{
			name:         "unmasked frame to server",
			input:        []byte{0x81, 0x00},
			expectMasked: true,
			want:         ErrExpectedMaskedFrame,
		},
		{
			name:  "masked frame to client",
			input: []byte{0x81, 0x80, 1, 2, 3, 4},
			want:  ErrUnexpectedMaskedFrame,
		},
		{
			name:  "16-bit length holding 125",
			input: []byte{0x82, 126, 0x00, 0x7D},
			want:  ErrNonMinimalLength,
		},
		{
			name:  "64-bit length holding 65535",
			input: []byte{0x82, 127, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF},
			want:  ErrNonMinimalLength,
		},
		{
			name:  "64-bit length with msb set",
			input: []byte{0x82, 127, 0x80, 0, 0, 0, 0, 0, 0, 0},
			want:  ErrLengthOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hd := headerDecoder{expectMasked: tt.expectMasked, allowRSV1: tt.allowRSV1}
			_, _, err := hd.feed(tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("feed() error = %v, want %v", err, tt.want)
			}

			var de *DecodeError
			if !errors.As(err, &de) || de.CloseCode() != CloseProtocolError {
				t.Errorf("error %v is not a protocol DecodeError", err)
			}
		})
	}
}

func TestHeaderDecoderAllowsNegotiatedRSV1(t *testing.T) {
	hd := headerDecoder{allowRSV1: true}
	_, ok, err := hd.feed([]byte{0xC1, 0x01})
	if err != nil || !ok {
		t.Fatalf("feed() = %v, %v", ok, err)
	}
	if !hd.h.RSV1 {
		t.Errorf("RSV1 = false, want true")
	}
}
