package parser

import (
	"strings"

	"github.com/pkg/errors"
)

// Layout selects the token positions used to decode every line of a
// document. It is chosen once per document from its first line.
type Layout int

const (
	// LayoutPlain lines look like "PORT COBID [#] B0 ... B7".
	LayoutPlain Layout = iota
	// LayoutTimestamped lines carry a leading "(TIMESTAMP)" token.
	LayoutTimestamped
)

// fieldOffsets are token indices of the decoded fields.
type fieldOffsets struct {
	port      int
	cobID     int
	indexLow  int
	indexHigh int
	subIndex  int
}

var layoutOffsets = [...]fieldOffsets{
	LayoutPlain:       {port: 0, cobID: 1, indexLow: 4, indexHigh: 5, subIndex: 6},
	LayoutTimestamped: {port: 1, cobID: 2, indexLow: 5, indexHigh: 6, subIndex: 7},
}

func (l Layout) offsets() fieldOffsets {
	if l == LayoutTimestamped {
		return layoutOffsets[LayoutTimestamped]
	}
	return layoutOffsets[LayoutPlain]
}

func (l Layout) String() string {
	if l == LayoutTimestamped {
		return "timestamped"
	}
	return "plain"
}

// MarshalText implements encoding.TextMarshaler.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layout) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "plain", "":
		*l = LayoutPlain
	case "timestamped":
		*l = LayoutTimestamped
	default:
		return errors.Errorf("unknown layout %q", string(b))
	}
	return nil
}

// DetectLayout returns LayoutTimestamped when the first line of a document
// starts with '('.
func DetectLayout(firstLine string) Layout {
	if strings.HasPrefix(strings.TrimSpace(firstLine), "(") {
		return LayoutTimestamped
	}
	return LayoutPlain
}
