package bcts

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid"
)

const (
	maxUint8  = ^uint8(0)
	maxUint16 = ^uint16(0)
	maxUint32 = ^uint32(0)
)

func WriteUInt8[T ~uint8](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, i)
}

func WriteUInt16[T ~uint16](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, i)
}

func WriteUInt32[T ~uint32](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, i)
}

func WriteUInt64[T ~uint64](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, i)
}

func WriteInt64[T ~int64](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, i)
}

func WriteBool(w io.Writer, b bool) error {
	if b {
		return WriteUInt8(w, uint8(1))
	}
	return WriteUInt8(w, uint8(0))
}

func WriteTinyString[T ~string](w io.Writer, s T) error {
	if len(s) > int(maxUint8) {
		return fmt.Errorf("string is longer than max length of a tiny string, len=%d", len(s))
	}
	err := WriteUInt8(w, uint8(len(s)))
	if err != nil || len(s) == 0 {
		return err
	}
	return writeAll(w, []byte(s))
}

func WriteSmallString[T ~string](w io.Writer, s T) error {
	if len(s) > int(maxUint16) {
		return fmt.Errorf("string is longer than max length of a small string, len=%d", len(s))
	}
	err := WriteUInt16(w, uint16(len(s)))
	if err != nil || len(s) == 0 {
		return err
	}
	return writeAll(w, []byte(s))
}

func WriteBytes(w io.Writer, b []byte) error {
	if uint64(len(b)) > uint64(maxUint32) {
		return fmt.Errorf("byte slice is longer than max length, len=%d", len(b))
	}
	err := WriteUInt32(w, uint32(len(b)))
	if err != nil || len(b) == 0 {
		return err
	}
	return writeAll(w, b)
}

func WriteUUID(w io.Writer, id uuid.UUID) error {
	return writeAll(w, id[:])
}

// WriteTime stores t as unix nanoseconds, location is not kept.
func WriteTime(w io.Writer, t time.Time) error {
	return WriteInt64(w, t.UnixNano())
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
