package codec

import (
	"bytes"
	"strconv"
)

// FieldError is returned by custom unmarshalers; Decode reports it as a
// validation failure rather than a parse failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

// Uint is an unsigned integer that accepts both JSON numbers and numeric
// strings. It is written back as a string so large ids survive JS clients.
type Uint uint64

func (u *Uint) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) >= 2 && b[0] == '"' {
		uq, err := strconv.Unquote(s)
		if err != nil {
			return &FieldError{Reason: "malformed string"}
		}
		s = uq
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return &FieldError{Reason: "not an unsigned integer: " + strconv.Quote(s)}
	}
	*u = Uint(v)
	return nil
}

func (u Uint) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

func (u Uint) String() string { return strconv.FormatUint(uint64(u), 10) }
