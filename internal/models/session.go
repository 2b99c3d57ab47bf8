package models

import "time"

// FilterSession describes a loaded trace document and its filter state.
type FilterSession struct {
	ID             string         `json:"id"`
	FileID         string         `json:"fileId,omitempty"`
	Name           string         `json:"name"`
	Layout         string         `json:"layout"`
	LineCount      int            `json:"lineCount"`
	MatchedCount   int            `json:"matchedCount"`
	MalformedCount int            `json:"malformedCount"`
	Criteria       FilterCriteria `json:"criteria"`
	Indexed        bool           `json:"indexed"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ParseError represents a trace line that could not be evaluated.
type ParseError struct {
	Line    int    `json:"line" msgpack:"line"`
	Content string `json:"content" msgpack:"content"`
	Reason  string `json:"reason" msgpack:"reason"`
}

// TraceSummary aggregates the decoded frames of a document.
type TraceSummary struct {
	Frames        int            `json:"frames"`
	Malformed     int            `json:"malformed"`
	ByType        map[string]int `json:"byType"`
	ByNode        map[string]int `json:"byNode"`
	ByPort        map[string]int `json:"byPort"`
	ObjectIndices []string       `json:"objectIndices"`
}
