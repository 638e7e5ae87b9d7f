// Package gwioutil has io helpers for connections with read/write deadlines
package gwioutil

import (
	"io"

	"github.com/pkg/errors"
)

// IsTimeoutError checks if the error, or the error it wraps, is a timeout
func IsTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// WriteAll writes all of data, a write interrupted by a deadline is resumed
func WriteAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		data = data[n:]
		if err != nil && !IsTimeoutError(err) {
			return err
		}
	}
	return nil
}

// ReadAll fills data from the reader, a read interrupted by a deadline is resumed
func ReadAll(r io.Reader, data []byte) error {
	for len(data) > 0 {
		n, err := r.Read(data)
		data = data[n:]
		if len(data) == 0 {
			return nil
		}
		if err != nil && !IsTimeoutError(err) {
			return err
		}
	}
	return nil
}
