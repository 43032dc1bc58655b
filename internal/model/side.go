package model

import (
	"fmt"
)

// Side is one of the two complementary share classes. The zero value is not
// a valid side.
type Side uint8

const (
	SideYes Side = iota + 1
	SideNo
)

// ParseSide accepts exactly "YES" or "NO".
func ParseSide(s string) (Side, error) {
	switch s {
	case "YES":
		return SideYes, nil
	case "NO":
		return SideNo, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSide, s)
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return []byte(""), nil
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
