// Package models contains domain types for the CANopen trace filter.
package models

import (
	"sort"
	"strings"
)

// PacketType is a CANopen message class, identified by the function code
// carried in the high bits of a COB-ID.
type PacketType string

const (
	PacketNMT       PacketType = "NMT"
	PacketEMER      PacketType = "EMER"
	PacketTIME      PacketType = "TIME"
	PacketRSDO      PacketType = "R_SDO"
	PacketRPDO1     PacketType = "R_PDO_1"
	PacketRPDO2     PacketType = "R_PDO_2"
	PacketRPDO3     PacketType = "R_PDO_3"
	PacketRPDO4     PacketType = "R_PDO_4"
	PacketTSDO      PacketType = "T_SDO"
	PacketTPDO1     PacketType = "T_PDO_1"
	PacketTPDO2     PacketType = "T_PDO_2"
	PacketTPDO3     PacketType = "T_PDO_3"
	PacketTPDO4     PacketType = "T_PDO_4"
	PacketNodeGuard PacketType = "NODE_GUARD"
)

const (
	// FunctionCodeMask selects the function code bits of an 11-bit COB-ID.
	FunctionCodeMask = 0xF80
	// NodeAddressMask selects the node address bits of an 11-bit COB-ID.
	NodeAddressMask = 0x7F
)

// functionCodes is read-only after package init.
var functionCodes = map[PacketType]uint32{
	PacketNMT:       0x000,
	PacketEMER:      0x080,
	PacketTIME:      0x100,
	PacketTPDO1:     0x180,
	PacketRPDO1:     0x200,
	PacketTPDO2:     0x280,
	PacketRPDO2:     0x300,
	PacketTPDO3:     0x380,
	PacketRPDO3:     0x400,
	PacketTPDO4:     0x480,
	PacketRPDO4:     0x500,
	PacketTSDO:      0x580,
	PacketRSDO:      0x600,
	PacketNodeGuard: 0x700,
}

var packetsByCode = func() map[uint32]PacketType {
	m := make(map[uint32]PacketType, len(functionCodes))
	for t, code := range functionCodes {
		m[code] = t
	}
	return m
}()

// FunctionCode returns the function code of t. ok is false for values
// outside the enumeration.
func (t PacketType) FunctionCode() (code uint32, ok bool) {
	code, ok = functionCodes[t]
	return code, ok
}

// Valid reports whether t is one of the known packet types.
func (t PacketType) Valid() bool {
	_, ok := functionCodes[t]
	return ok
}

// IsSDO reports whether t is a request or response SDO.
func (t PacketType) IsSDO() bool {
	return t == PacketRSDO || t == PacketTSDO
}

// PacketTypeForCode maps a masked function code back to its packet type.
func PacketTypeForCode(code uint32) (PacketType, bool) {
	t, ok := packetsByCode[code&FunctionCodeMask]
	return t, ok
}

// ParsePacketType resolves a packet type name, ignoring case and
// accepting '-' in place of '_'.
func ParsePacketType(name string) (PacketType, bool) {
	t := PacketType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")))
	if !t.Valid() {
		return "", false
	}
	return t, true
}

// AllPacketTypes returns every packet type ordered by function code.
func AllPacketTypes() []PacketType {
	types := make([]PacketType, 0, len(functionCodes))
	for t := range functionCodes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		return functionCodes[types[i]] < functionCodes[types[j]]
	})
	return types
}
