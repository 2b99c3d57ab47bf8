package parser

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Line-local decode failures. Both exclude the offending line from the
// output; neither aborts a recompute.
var (
	// ErrMalformedLine means a line has fewer tokens than a field requires.
	ErrMalformedLine = errors.New("malformed line")
	// ErrInvalidHex means a COB-ID or index token is not hexadecimal.
	ErrInvalidHex = errors.New("invalid hex")
)

// ErrUnknownPacketType is returned when a type filter names no CANopen class.
var ErrUnknownPacketType = errors.New("unknown packet type")

// ParseCOBID parses a hexadecimal COB-ID token. A leading "0x" is accepted.
func ParseCOBID(tok string) (uint32, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidHex, "cob-id %q", tok)
	}
	return uint32(v), nil
}

// FormatAddress renders a node address the way address filters are
// written: lower-case hex without padding.
func FormatAddress(addr uint32) string {
	return strconv.FormatUint(uint64(addr), 16)
}

// isHex reports whether s is a non-empty run of hex digits.
func isHex(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
