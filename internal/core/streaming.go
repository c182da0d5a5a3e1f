package core

// streaming.go provides readers that clean up import files on the fly:
//
//   - BOMSkippingReader: drops a UTF-8 BOM and rejects UTF-16 input
//   - nulRejectingReader: rejects binary or UTF-16 data without a BOM
//   - StreamingUTF8Sanitizer: replaces invalid UTF-8 bytes with '?'
//   - StreamingCountingReader: tracks bytes read
//
// Use WrapForStreaming to apply them in the correct order.

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"unicode/utf8"
)

// ErrUnsupportedEncoding is returned by the readers for UTF-16 or binary input.
var ErrUnsupportedEncoding = errors.New("file is UTF-16 or binary, not UTF-8 text")

// StreamingUTF8Sanitizer replaces invalid UTF-8 bytes with '?' as data is
// read, so memory stays at one buffer regardless of file size.
type StreamingUTF8Sanitizer struct {
	reader io.Reader

	// Leftover bytes from the previous read that may start a multi-byte rune.
	pending []byte

	// Replaced counts the bytes substituted so far.
	Replaced int
}

// NewStreamingUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewStreamingUTF8Sanitizer(r io.Reader) *StreamingUTF8Sanitizer {
	return &StreamingUTF8Sanitizer{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (s *StreamingUTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isAllASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize rewrites data in place and returns the number of bytes to hand
// out. Unless atEOF, an incomplete rune at the end is held back in pending.
func (s *StreamingUTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		if !atEOF {
			if trailing := incompleteTrailingBytes(data); trailing > 0 {
				s.pending = append(s.pending, data[len(data)-trailing:]...)
				return len(data) - trailing
			}
		}
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if !atEOF && read+size >= len(data) && isIncompleteRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		if r == utf8.RuneError && size == 1 {
			// '?' keeps the output no longer than the input.
			data[write] = '?'
			s.Replaced++
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// incompleteTrailingBytes returns how many bytes at the end of data could be
// the start of an unfinished multi-byte sequence.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	}
	return 4
}

func isIncompleteRune(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return runeLen(data[0]) > len(data)
}

// BOMSkippingReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF), which Excel
// adds to "CSV UTF-8" exports. A UTF-16 BOM fails with ErrUnsupportedEncoding.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, _ := r.br.Peek(3)
		switch {
		case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
			if _, err := r.br.Discard(3); err != nil {
				return 0, err
			}
		case bytes.HasPrefix(head, []byte{0xFF, 0xFE}), bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
			return 0, ErrUnsupportedEncoding
		}
	}
	return r.br.Read(p)
}

// nulRejectingReader fails on the first NUL byte. Text exports never contain
// one, while UTF-16 saved without a BOM has one in every ASCII character.
type nulRejectingReader struct {
	reader io.Reader
}

func (r nulRejectingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if bytes.IndexByte(p[:n], 0) >= 0 {
		return 0, ErrUnsupportedEncoding
	}
	return n, err
}

// StreamingCountingReader wraps an io.Reader to track bytes read.
type StreamingCountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewStreamingCountingReader creates a counting reader.
func NewStreamingCountingReader(r io.Reader) *StreamingCountingReader {
	return &StreamingCountingReader{reader: r}
}

// Read implements io.Reader.
func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// StreamingInput is an import file wrapped for parsing.
type StreamingInput struct {
	*StreamingCountingReader
	sanitizer *StreamingUTF8Sanitizer
}

// Replaced returns how many invalid UTF-8 bytes were substituted so far.
func (in *StreamingInput) Replaced() int {
	return in.sanitizer.Replaced
}

// WrapForStreaming wraps r with BOM handling, encoding checks, UTF-8
// sanitization and byte counting. The BOM must be stripped before anything
// else looks at the bytes.
func WrapForStreaming(r io.Reader) *StreamingInput {
	sanitizer := NewStreamingUTF8Sanitizer(nulRejectingReader{reader: NewBOMSkippingReader(r)})
	return &StreamingInput{
		StreamingCountingReader: NewStreamingCountingReader(sanitizer),
		sanitizer:               sanitizer,
	}
}
