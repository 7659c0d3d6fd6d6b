// Package frame implements newline-delimited message framing for the
// replay wire protocol. Messages carry no length prefix, so receivers
// must reassemble complete lines from partial reads; Scanner keeps the
// unterminated tail buffered between reads and never yields a split
// record.
package frame

import (
	"bytes"
	"errors"
	"io"
)

// MaxLineBytes bounds a single framed message. A line growing past this
// without a terminator indicates a corrupt or hostile peer.
const MaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a message exceeds MaxLineBytes before
// a newline is seen.
var ErrLineTooLong = errors.New("frame: line exceeds maximum length")

// Scanner reads newline-terminated frames from an io.Reader, carrying
// partial data across short reads. Only io.EOF is terminal: other read
// errors (read deadlines in particular) are returned to the caller
// without discarding the partial buffer, so scanning can resume on the
// same connection. Not safe for concurrent use.
type Scanner struct {
	r    io.Reader
	buf  []byte // unconsumed bytes, possibly containing complete lines
	read []byte // scratch read buffer
	eof  bool
}

// NewScanner returns a Scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		r:    r,
		read: make([]byte, 4096),
	}
}

// Next returns the next complete frame without its trailing newline.
// Empty lines are skipped. It returns io.EOF once the stream ends; a
// non-empty unterminated tail at EOF is yielded as a final frame before
// the EOF is reported.  The returned slice is only valid until the next
// call.
func (s *Scanner) Next() ([]byte, error) {
	for {
		// Serve a complete line from the carryover buffer first.
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := s.buf[:i]
			s.buf = s.buf[i+1:]
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return line, nil
		}

		if s.eof {
			if len(bytes.TrimSpace(s.buf)) > 0 {
				line := s.buf
				s.buf = nil
				return line, nil
			}
			return nil, io.EOF
		}

		if len(s.buf) > MaxLineBytes {
			s.buf = nil
			return nil, ErrLineTooLong
		}

		n, err := s.r.Read(s.read)
		if n > 0 {
			// Copy into the carryover buffer; s.read is reused.
			s.buf = append(s.buf, s.read[:n]...)
		}
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteFrame writes one newline-terminated frame to w as a single Write
// call, so concurrent writers on the same connection never interleave
// partial records.
func WriteFrame(w io.Writer, payload []byte) error {
	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, '\n')
	_, err := w.Write(framed)
	return err
}
