package parser

import (
	"strings"

	"github.com/cantrace/backend/internal/models"
	"github.com/pkg/errors"
)

// EmptyTextPolicy decides what a recompute does when no source text is loaded.
type EmptyTextPolicy string

const (
	// EmptyTextKeep skips the recompute and emits nothing, so a display keeps
	// whatever it showed last.
	EmptyTextKeep EmptyTextPolicy = "keep"
	// EmptyTextClear emits an empty result.
	EmptyTextClear EmptyTextPolicy = "clear"
)

// DefaultMaxReportedErrors caps Result.Errors. Counters are never capped.
const DefaultMaxReportedErrors = 1000

// Result is the output of one recompute.
type Result struct {
	Text      string              `json:"text"`
	Layout    Layout              `json:"layout"`
	Total     int                 `json:"total"`
	Matched   int                 `json:"matched"`
	Malformed int                 `json:"malformed"`
	Errors    []models.ParseError `json:"errors"`
}

// Listener receives every result the engine emits.
type Listener func(Result)

// Option configures an Engine.
type Option func(*Engine)

// WithEmptyTextPolicy sets how an empty source text is handled.
func WithEmptyTextPolicy(p EmptyTextPolicy) Option {
	return func(e *Engine) {
		e.emptyPolicy = p
	}
}

// WithMaxReportedErrors caps the number of line errors kept per result.
// Zero or less disables error details.
func WithMaxReportedErrors(n int) Option {
	return func(e *Engine) {
		e.maxErrors = n
	}
}

// WithListener registers a listener at construction.
func WithListener(fn Listener) Option {
	return func(e *Engine) {
		e.Subscribe(fn)
	}
}

type subscription struct {
	id int
	fn Listener
}

// Engine owns a trace document and the active filter criteria. Every
// mutator rescans the document and emits the new Result to all listeners.
// An Engine is not safe for concurrent use.
type Engine struct {
	hasText bool
	layout  Layout
	frames  []Frame

	ports         tokenSet
	addresses     tokenSet
	objectIndices tokenSet
	subIndices    tokenSet
	types         map[models.PacketType]struct{}

	result      Result
	emptyPolicy EmptyTextPolicy
	maxErrors   int

	listeners []subscription
	nextSubID int
}

// NewEngine creates an engine with no text and no active criteria.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ports:         tokenSet{},
		addresses:     tokenSet{},
		objectIndices: tokenSet{},
		subIndices:    tokenSet{},
		types:         make(map[models.PacketType]struct{}),
		emptyPolicy:   EmptyTextKeep,
		maxErrors:     DefaultMaxReportedErrors,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers fn for future results and returns a function that
// removes it.
func (e *Engine) Subscribe(fn Listener) (unsubscribe func()) {
	e.nextSubID++
	id := e.nextSubID
	e.listeners = append(e.listeners, subscription{id: id, fn: fn})
	return func() {
		for i, s := range e.listeners {
			if s.id == id {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetText replaces the source document, re-detects its layout from the
// first line with any tokens and recomputes.
func (e *Engine) SetText(text string) {
	e.hasText = text != ""
	lines := splitLines(text)

	e.layout = LayoutPlain
	for _, line := range lines {
		if strings.TrimSpace(line.text) != "" {
			e.layout = DetectLayout(line.text)
			break
		}
	}

	e.frames = make([]Frame, len(lines))
	for i, line := range lines {
		e.frames[i] = decodeFrame(e.layout, line)
	}
	e.recompute()
}

// SetPort replaces the port filter.
func (e *Engine) SetPort(s string) {
	e.ports = newTokenSet(SplitCriteria(s))
	e.recompute()
}

// SetAddress replaces the node address filter. Addresses are hex.
func (e *Engine) SetAddress(s string) {
	e.addresses = newTokenSet(SplitCriteria(s))
	e.recompute()
}

// SetObjectIndex replaces the SDO object index filter.
func (e *Engine) SetObjectIndex(s string) {
	e.objectIndices = newTokenSet(SplitCriteria(s))
	e.recompute()
}

// SetSubIndex replaces the SDO subindex filter.
func (e *Engine) SetSubIndex(s string) {
	e.subIndices = newTokenSet(SplitCriteria(s))
	e.recompute()
}

// AddType adds t to the type filter. Adding a present type only recomputes.
func (e *Engine) AddType(t models.PacketType) error {
	if !t.Valid() {
		return errors.Wrapf(ErrUnknownPacketType, "%q", t)
	}
	e.types[t] = struct{}{}
	e.recompute()
	return nil
}

// RemoveType removes t from the type filter.
func (e *Engine) RemoveType(t models.PacketType) error {
	if !t.Valid() {
		return errors.Wrapf(ErrUnknownPacketType, "%q", t)
	}
	delete(e.types, t)
	e.recompute()
	return nil
}

// SetTypes replaces the whole type filter.
func (e *Engine) SetTypes(types []models.PacketType) error {
	set, err := typeSet(types)
	if err != nil {
		return err
	}
	e.types = set
	e.recompute()
	return nil
}

// SetCriteria replaces every filter at once with a single recompute.
// Each string element is split like a free-form criteria string.
func (e *Engine) SetCriteria(c models.FilterCriteria) error {
	types, err := typeSet(c.Types)
	if err != nil {
		return err
	}
	e.ports = newTokenSet(splitAll(c.Ports))
	e.addresses = newTokenSet(splitAll(c.Addresses))
	e.objectIndices = newTokenSet(splitAll(c.ObjectIndices))
	e.subIndices = newTokenSet(splitAll(c.SubIndices))
	e.types = types
	e.recompute()
	return nil
}

// Criteria returns a snapshot of the active filters.
func (e *Engine) Criteria() models.FilterCriteria {
	types := make([]models.PacketType, 0, len(e.types))
	for _, t := range models.AllPacketTypes() {
		if _, ok := e.types[t]; ok {
			types = append(types, t)
		}
	}
	return models.FilterCriteria{
		Ports:         e.ports.values(),
		Addresses:     e.addresses.values(),
		ObjectIndices: e.objectIndices.values(),
		SubIndices:    e.subIndices.values(),
		Types:         types,
	}
}

// Result returns the most recent result.
func (e *Engine) Result() Result {
	return e.result
}

// Layout returns the layout of the loaded document.
func (e *Engine) Layout() Layout {
	return e.layout
}

// Frames returns the decoded lines of the loaded document.
func (e *Engine) Frames() []Frame {
	out := make([]Frame, len(e.frames))
	copy(out, e.frames)
	return out
}

func (e *Engine) recompute() {
	if !e.hasText {
		if e.emptyPolicy != EmptyTextClear {
			return
		}
		e.result = Result{Layout: e.layout, Errors: []models.ParseError{}}
		e.emit()
		return
	}

	var sb strings.Builder
	res := Result{
		Layout: e.layout,
		Total:  len(e.frames),
		Errors: make([]models.ParseError, 0),
	}
	for i := range e.frames {
		f := &e.frames[i]
		ok, err := e.matches(f)
		if err != nil {
			res.Malformed++
			if len(res.Errors) < e.maxErrors {
				res.Errors = append(res.Errors, models.ParseError{
					Line:    f.Line,
					Content: f.Raw,
					Reason:  err.Error(),
				})
			}
			continue
		}
		if !ok {
			continue
		}
		res.Matched++
		sb.WriteString(f.Raw)
		sb.WriteByte('\r')
	}
	res.Text = sb.String()

	e.result = res
	e.emit()
}

func (e *Engine) emit() {
	for _, s := range e.listeners {
		s.fn(e.result)
	}
}

// anyActive reports whether at least one criterion filters lines.
func (e *Engine) anyActive() bool {
	return e.ports.active() || e.addresses.active() || e.objectIndices.active() ||
		e.subIndices.active() || len(e.types) > 0
}

// matches evaluates the per-line predicate. With no active criterion every
// line passes verbatim; otherwise a line without a decodable COB-ID is
// malformed, and payload fields are only decoded for the criteria that
// need them.
func (e *Engine) matches(f *Frame) (bool, error) {
	if !e.anyActive() {
		return true, nil
	}
	if _, err := f.COBID(); err != nil {
		return false, err
	}

	if e.ports.active() {
		port, err := f.Port()
		if err != nil {
			return false, err
		}
		if !e.ports.has(port) {
			return false, nil
		}
	}

	if e.addresses.active() {
		addr, err := f.NodeAddress()
		if err != nil {
			return false, err
		}
		if !e.addresses.has(FormatAddress(addr)) {
			return false, nil
		}
	}

	if e.objectIndices.active() {
		sdo, err := f.IsSDO()
		if err != nil {
			return false, err
		}
		if !sdo {
			return false, nil
		}
		idx, err := f.ObjectIndex()
		if err != nil {
			return false, err
		}
		if !e.objectIndices.has(idx) {
			return false, nil
		}
	}

	if e.subIndices.active() {
		sdo, err := f.IsSDO()
		if err != nil {
			return false, err
		}
		if !sdo {
			return false, nil
		}
		sub, err := f.SubIndex()
		if err != nil {
			return false, err
		}
		if !e.subIndices.has(sub) {
			return false, nil
		}
	}

	if len(e.types) > 0 {
		t, ok, err := f.PacketType()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if _, selected := e.types[t]; !selected {
			return false, nil
		}
	}

	return true, nil
}

func typeSet(types []models.PacketType) (map[models.PacketType]struct{}, error) {
	set := make(map[models.PacketType]struct{}, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, errors.Wrapf(ErrUnknownPacketType, "%q", t)
		}
		set[t] = struct{}{}
	}
	return set, nil
}

func splitAll(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, SplitCriteria(v)...)
	}
	return out
}

// Filter runs a one-shot filter over text with the given criteria.
func Filter(text string, c models.FilterCriteria, opts ...Option) (Result, error) {
	e := NewEngine(append(opts, WithEmptyTextPolicy(EmptyTextClear))...)
	if err := e.SetCriteria(c); err != nil {
		return Result{}, err
	}
	e.SetText(text)
	return e.Result(), nil
}
