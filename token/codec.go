package token

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iidesho/roomsync/bcts"
)

var ErrMalformed = errors.New("malformed stream token")

// Parse reads the String form of a token. Tokens come back from clients, so
// anything that could not have been produced by String is rejected.
func Parse(s string) (Token, error) {
	if len(s) < 2 {
		return Token{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	switch s[0] {
	case 's':
		floor, err := parsePosition(s[1:], true)
		if err != nil {
			return Token{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		return Scalar(floor), nil
	case 'm':
	default:
		return Token{}, fmt.Errorf("%w: unknown prefix in %q", ErrMalformed, s)
	}
	parts := strings.Split(s[1:], "~")
	floor, err := parsePosition(parts[0], true)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	if len(parts) == 1 {
		return Token{}, fmt.Errorf("%w: multi writer token without writers %q", ErrMalformed, s)
	}
	pw := make(map[WriterID]StreamPosition, len(parts)-1)
	for _, part := range parts[1:] {
		i := strings.LastIndexByte(part, '.')
		if i <= 0 {
			return Token{}, fmt.Errorf("%w: bad writer entry %q", ErrMalformed, part)
		}
		w := WriterID(part[:i])
		pos, err := parsePosition(part[i+1:], false)
		if err != nil {
			return Token{}, fmt.Errorf("%w: writer %s: %v", ErrMalformed, w, err)
		}
		if _, dup := pw[w]; dup {
			return Token{}, fmt.Errorf("%w: duplicate writer %s", ErrMalformed, w)
		}
		if pos <= floor {
			return Token{}, fmt.Errorf("%w: writer %s at %d is not ahead of floor %d", ErrMalformed, w, pos, floor)
		}
		pw[w] = pos
	}
	return Token{floor: floor, perWriter: pw}, nil
}

// ValidWriterID reports whether w can be carried in the string form.
func ValidWriterID(w WriterID) bool {
	return w != "" && !strings.ContainsRune(string(w), '~') && len(w) <= 255
}

func parsePosition(s string, allowZero bool) (StreamPosition, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v == 0 && !allowZero {
		return 0, errors.New("position must be positive")
	}
	return StreamPosition(v), nil
}

func (t Token) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *Token) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Token) WriteBytes(w io.Writer) error {
	err := bcts.WriteUInt8(w, uint8(0))
	if err != nil {
		return err
	}
	err = bcts.WriteUInt64(w, t.floor)
	if err != nil {
		return err
	}
	err = bcts.WriteUInt16(w, uint16(len(t.perWriter)))
	if err != nil {
		return err
	}
	for _, wr := range t.Writers() {
		err = bcts.WriteTinyString(w, wr)
		if err != nil {
			return err
		}
		err = bcts.WriteUInt64(w, t.perWriter[wr])
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Token) ReadBytes(r io.Reader) error {
	err := bcts.ReadVersion(r, 0)
	if err != nil {
		return err
	}
	var floor StreamPosition
	err = bcts.ReadUInt64(r, &floor)
	if err != nil {
		return err
	}
	var n uint16
	err = bcts.ReadUInt16(r, &n)
	if err != nil {
		return err
	}
	pw := make(map[WriterID]StreamPosition, n)
	for i := uint16(0); i < n; i++ {
		var w WriterID
		err = bcts.ReadTinyString(r, &w)
		if err != nil {
			return err
		}
		var p StreamPosition
		err = bcts.ReadUInt64(r, &p)
		if err != nil {
			return err
		}
		pw[w] = p
	}
	*t = New(floor, pw)
	return nil
}
