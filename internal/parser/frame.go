package parser

import (
	"github.com/cantrace/backend/internal/models"
	"github.com/pkg/errors"
)

// Frame is one decoded trace line. Tokens and the COB-ID are decoded once
// when a document is loaded; field accessors report decode failures.
type Frame struct {
	Line   int      // 1-based line number in the source text
	Raw    string   // original, untrimmed line
	Tokens []string // whitespace-split tokens

	offsets fieldOffsets
	cobID   uint32
	cobErr  error
}

func decodeFrame(layout Layout, line sourceLine) Frame {
	f := Frame{
		Line:    line.num,
		Raw:     line.text,
		Tokens:  SplitWhitespace(line.text),
		offsets: layout.offsets(),
	}
	tok, err := f.token(f.offsets.cobID, "cob-id")
	if err != nil {
		f.cobErr = err
		return f
	}
	f.cobID, f.cobErr = ParseCOBID(tok)
	return f
}

func (f *Frame) token(idx int, field string) (string, error) {
	if idx >= len(f.Tokens) {
		return "", errors.Wrapf(ErrMalformedLine, "missing %s at token %d, line has %d", field, idx+1, len(f.Tokens))
	}
	return f.Tokens[idx], nil
}

// Port returns the capture port token.
func (f *Frame) Port() (string, error) {
	return f.token(f.offsets.port, "port")
}

// COBID returns the decoded CAN identifier.
func (f *Frame) COBID() (uint32, error) {
	return f.cobID, f.cobErr
}

// NodeAddress returns the node address bits of the COB-ID.
func (f *Frame) NodeAddress() (uint32, error) {
	if f.cobErr != nil {
		return 0, f.cobErr
	}
	return f.cobID & models.NodeAddressMask, nil
}

// FunctionCode returns the function code bits of the COB-ID.
func (f *Frame) FunctionCode() (uint32, error) {
	if f.cobErr != nil {
		return 0, f.cobErr
	}
	return f.cobID & models.FunctionCodeMask, nil
}

// PacketType classifies the frame. ok is false when the function code is
// not in the CANopen table.
func (f *Frame) PacketType() (t models.PacketType, ok bool, err error) {
	code, err := f.FunctionCode()
	if err != nil {
		return "", false, err
	}
	t, ok = models.PacketTypeForCode(code)
	return t, ok, nil
}

// IsSDO reports whether the frame is a request or response SDO.
func (f *Frame) IsSDO() (bool, error) {
	t, ok, err := f.PacketType()
	if err != nil {
		return false, err
	}
	return ok && t.IsSDO(), nil
}

// ObjectIndex returns the SDO object index, high byte first.
func (f *Frame) ObjectIndex() (string, error) {
	lo, err := f.token(f.offsets.indexLow, "object index low byte")
	if err != nil {
		return "", err
	}
	hi, err := f.token(f.offsets.indexHigh, "object index high byte")
	if err != nil {
		return "", err
	}
	if !isHex(lo) || !isHex(hi) {
		return "", errors.Wrapf(ErrInvalidHex, "object index %q %q", lo, hi)
	}
	return hi + lo, nil
}

// SubIndex returns the SDO subindex token.
func (f *Frame) SubIndex() (string, error) {
	sub, err := f.token(f.offsets.subIndex, "subindex")
	if err != nil {
		return "", err
	}
	if !isHex(sub) {
		return "", errors.Wrapf(ErrInvalidHex, "subindex %q", sub)
	}
	return sub, nil
}
