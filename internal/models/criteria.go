package models

// FilterCriteria is a snapshot of the active filter sets.
// An empty slice is a wildcard for its field.
type FilterCriteria struct {
	Ports         []string     `json:"ports" msgpack:"ports"`
	Addresses     []string     `json:"addresses" msgpack:"addresses"`
	ObjectIndices []string     `json:"objectIndices" msgpack:"objectIndices"`
	SubIndices    []string     `json:"subIndices" msgpack:"subIndices"`
	Types         []PacketType `json:"types" msgpack:"types"`
}

// IsEmpty reports whether no criterion is active.
func (c FilterCriteria) IsEmpty() bool {
	return len(c.Ports) == 0 && len(c.Addresses) == 0 &&
		len(c.ObjectIndices) == 0 && len(c.SubIndices) == 0 && len(c.Types) == 0
}
