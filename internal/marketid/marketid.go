// Package marketid parses market identifiers.
//
// A market id is EVENT or EVENT:OUTCOME. Markets that share an EVENT are
// mutually exclusive outcomes of the same real-world event and are treated
// as one correlated group by exposure limits.
package marketid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLen is the longest accepted market id.
const MaxLen = 128

// idRegex matches: {EVENT}[:{OUTCOME}]
// Example: FED-RATE-2026-12:CUT50
var idRegex = regexp.MustCompile(
	`^([A-Za-z0-9][A-Za-z0-9_.-]*)(?::([A-Za-z0-9][A-Za-z0-9_.-]*))?$`,
)

var ErrInvalidMarketID = errors.New("marketid: invalid market id")

// ID is a parsed market identifier.
type ID struct {
	Raw     string `json:"market_id"`
	Event   string `json:"event"`
	Outcome string `json:"outcome,omitempty"`
}

// Parse validates and splits a market id.
func Parse(raw string) (ID, error) {
	if len(raw) > MaxLen {
		return ID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidMarketID, MaxLen)
	}
	m := idRegex.FindStringSubmatch(raw)
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q (expected EVENT or EVENT:OUTCOME)", ErrInvalidMarketID, raw)
	}
	return ID{
		Raw:     raw,
		Event:   strings.ToUpper(m[1]),
		Outcome: m[2],
	}, nil
}

// Event returns the event group of a market id. Ids that do not parse form
// a group of their own.
func Event(raw string) string {
	id, err := Parse(raw)
	if err != nil {
		return raw
	}
	return id.Event
}

// String returns the id as it was parsed.
func (id ID) String() string {
	return id.Raw
}
