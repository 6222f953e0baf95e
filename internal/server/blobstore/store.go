// Package blobstore keeps attachment payloads. Payloads are namespaced by
// an encoded form of the owner identity followed by the handle.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned by Open when no payload exists under the key.
	ErrNotFound = errors.New("blob not found")
	// ErrSizeMismatch is returned by Put when the reader yields a different
	// number of bytes than announced.
	ErrSizeMismatch = errors.New("blob size mismatch")
)

// Key addresses one payload.
type Key struct {
	Owner  string
	Handle string
}

// Path is the slash separated storage path: <encoded-owner>/<encoded-handle>.
func (k Key) Path() string {
	return EncodeSegment(k.Owner) + "/" + EncodeSegment(k.Handle)
}

func (k Key) String() string { return k.Path() }

// Store is the payload storage used by the attachment service and the reaper.
type Store interface {
	// Put writes exactly size bytes from r under key, replacing nothing on failure.
	Put(ctx context.Context, key Key, r io.Reader, size int64) error
	// Open returns the payload and its length.
	Open(ctx context.Context, key Key) (io.ReadCloser, int64, error)
	// Delete removes the payload. A missing payload is not an error.
	Delete(ctx context.Context, key Key) error
	// Check verifies that the backend is reachable and writable.
	Check(ctx context.Context) error
}

const hexDigits = "0123456789abcdef"

// EncodeSegment makes s safe as a single path segment on any filesystem or
// object store. Every byte outside [A-Za-z0-9-] becomes '_' followed by two
// lower-case hex digits, so "a.b@c.de" encodes to "a_2eb_40c_2ede".
func EncodeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPlain(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '_' {
			if !isPlain(c) {
				return "", fmt.Errorf("invalid byte %q at %d", c, i)
			}
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape at %d", i)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid escape %q at %d", s[i:i+3], i)
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func isPlain(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// countingReader fails with ErrSizeMismatch when the stream does not hold
// exactly limit bytes.
type countingReader struct {
	r     io.Reader
	limit int64
	n     int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, c.limit)
	}
	if errors.Is(err, io.EOF) && c.n != c.limit {
		return n, fmt.Errorf("%w: got %d of %d bytes", ErrSizeMismatch, c.n, c.limit)
	}
	return n, err
}
