// Package bcts holds the small binary codec used for tokens and stream entries.
// Everything is little endian and length prefixed.
package bcts

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

type Writer interface {
	WriteBytes(io.Writer) error
}

type Reader[T any] interface {
	ReadBytes(io.Reader) error
	*T
}

type ReadWriter[T any] interface {
	Reader[T]
	Writer
}

// Write encodes w into a fresh byte slice.
func Write(w Writer) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	bw := bufio.NewWriter(buf)
	err := w.WriteBytes(bw)
	if err != nil {
		return nil, err
	}
	err = bw.Flush()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ReadReader[BT any, T Reader[BT]](r io.Reader) (BT, error) {
	v := T(new(BT))
	err := v.ReadBytes(r)
	return *v, err
}

func Read[BT any, T Reader[BT]](data []byte) (BT, error) {
	return ReadReader[BT, T](bytes.NewReader(data))
}

type VersionError struct {
	Expected uint8
	Got      uint8
}

func (e VersionError) Error() string {
	return fmt.Sprintf("invalid stored version, expected=%d, got=%d", e.Expected, e.Got)
}

// ReadVersion reads the leading version byte and fails unless it matches expected.
func ReadVersion(r io.Reader, expected uint8) error {
	var v uint8
	err := ReadUInt8(r, &v)
	if err != nil {
		return err
	}
	if v != expected {
		return VersionError{Expected: expected, Got: v}
	}
	return nil
}
