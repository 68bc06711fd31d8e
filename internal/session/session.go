// Package session owns one live graph and every operation that mutates it:
// expansion, merging, removal, condensation and the recomputation that
// follows each structural change.
//
// Operations on one Session are serialized: each holds the session lock for
// its whole duration, store I/O included. Events are delivered after the
// lock is released, so handlers may call back into the session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentic-research/loom/api"
	"github.com/agentic-research/loom/internal/debounce"
	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/query"
	"github.com/agentic-research/loom/internal/store"
	"github.com/agentic-research/loom/internal/style"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyFrontier           = errors.New("expand: empty frontier")
	ErrCollaboratorUnavailable = errors.New("required collaborator unavailable")
	ErrBulkRejected            = errors.New("bulk load rejected")
	ErrClosed                  = errors.New("session closed")
	ErrNoCoreStore             = errors.New("no core store")
	ErrNotCore                 = errors.New("only core documents can be active")
)

const (
	// DefaultLayoutDebounce coalesces layout restarts.
	DefaultLayoutDebounce = 200 * time.Millisecond
	// DefaultBulkThreshold is the corpus size above which LoadCorpus asks
	// for confirmation.
	DefaultBulkThreshold = 250
	// DefaultMinInDegree is the default condensation importance threshold.
	DefaultMinInDegree = 2
)

// Layout is the renderer's layout engine.
type Layout interface {
	// Start begins a layout pass with cfg, replacing any running pass.
	Start(cfg api.LayoutConfig)
	// Stop halts a running pass. It is not resumed.
	Stop()
}

type nopLayout struct{}

func (nopLayout) Start(api.LayoutConfig) {}
func (nopLayout) Stop()                  {}

// ConfirmFunc is asked before a bulk load of count nodes.
type ConfirmFunc func(count int) bool

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithLinkIndex sets the link-index collaborator used by directional
// expansion and condensation.
func WithLinkIndex(idx store.LinkIndex) Option {
	return func(s *Session) { s.index = idx }
}

// WithLayout sets the layout collaborator.
func WithLayout(l Layout) Option {
	return func(s *Session) { s.layout = l }
}

// WithSettings sets the view settings (filters, local groups, layout).
func WithSettings(cfg api.Settings) Option {
	return func(s *Session) { s.settings = cfg }
}

// WithGlobalGroups sets the process-wide style groups.
func WithGlobalGroups(groups []api.StyleGroup) Option {
	return func(s *Session) { s.globalDefs = groups }
}

// WithLayoutDebounce sets the layout restart window.
func WithLayoutDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounceWindow = d }
}

// WithBulkThreshold sets the LoadCorpus confirmation ceiling. Zero or less
// disables the check.
func WithBulkThreshold(n int) Option {
	return func(s *Session) { s.bulkThreshold = n }
}

// WithConfirm sets the bulk load confirmation callback. Without one, loads
// above the threshold are rejected.
func WithConfirm(fn ConfirmFunc) Option {
	return func(s *Session) { s.confirm = fn }
}

// WithMinInDegree sets the default condensation threshold.
func WithMinInDegree(n int) Option {
	return func(s *Session) { s.minInDegree = n }
}

// Session is one live graph plus the collaborators it pulls from.
type Session struct {
	id     string
	graph  *graph.Graph
	stores []store.DataStore // core first
	byID   map[string]store.DataStore
	index  store.LinkIndex
	layout Layout
	events *events.Emitter
	logger *zap.Logger

	settings       api.Settings
	globalDefs     []api.StyleGroup
	debounceWindow time.Duration
	bulkThreshold  int
	confirm        ConfirmFunc
	minInDegree    int

	mu         sync.Mutex
	closed     bool
	outbox     []pendingEvent
	filter     *query.Query
	hardFilter *query.Query
	global     *style.Groups
	local      *style.Groups
	active     *graph.Identity
	restart    *debounce.Debouncer
}

type pendingEvent struct {
	typ   events.Type
	nodes []graph.Identity
}

// New creates a session over stores. Exactly one store must be the core
// store; it is consulted first regardless of its position in stores.
func New(stores []store.DataStore, opts ...Option) (*Session, error) {
	s := &Session{
		id:             uuid.NewString(),
		graph:          graph.New(),
		byID:           make(map[string]store.DataStore, len(stores)),
		layout:         nopLayout{},
		logger:         zap.NewNop(),
		debounceWindow: DefaultLayoutDebounce,
		bulkThreshold:  DefaultBulkThreshold,
		minInDegree:    DefaultMinInDegree,
	}
	for _, o := range opts {
		o(s)
	}
	if s.settings.Layout.Name == "" {
		s.settings.Layout = api.DefaultLayout()
	}

	var core store.DataStore
	var rest []store.DataStore
	for _, st := range stores {
		sid := st.StoreID()
		if err := graph.NewIdentity("", sid).Validate(); err != nil {
			return nil, fmt.Errorf("store %q: %w", sid, err)
		}
		if _, dup := s.byID[sid]; dup {
			return nil, fmt.Errorf("duplicate store id %q", sid)
		}
		s.byID[sid] = st
		if sid == store.CoreStoreID {
			core = st
		} else {
			rest = append(rest, st)
		}
	}
	if core == nil {
		return nil, ErrNoCoreStore
	}
	s.stores = append([]store.DataStore{core}, rest...)

	var err error
	if s.filter, err = query.Compile(s.settings.Filter); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if s.hardFilter, err = query.Compile(s.settings.HardFilter); err != nil {
		return nil, fmt.Errorf("hard filter: %w", err)
	}
	if s.global, err = style.Compile(style.Global, s.globalDefs); err != nil {
		return nil, err
	}
	if s.local, err = style.Compile(style.Local, s.settings.LocalGroups); err != nil {
		return nil, err
	}

	s.events = events.NewEmitter(s.id, events.WithLogger(s.logger))
	s.restart = debounce.New(s.debounceWindow, s.debouncedRestart)
	s.logger = s.logger.With(zap.String("session", s.id))
	return s, nil
}

// ID returns the session id stamped on events.
func (s *Session) ID() string { return s.id }

// Events returns the session's emitter.
func (s *Session) Events() *events.Emitter { return s.events }

// Stores returns the stores, core first.
func (s *Session) Stores() []store.DataStore { return append([]store.DataStore(nil), s.stores...) }

// View runs fn with read access to the graph. fn must not retain the graph
// or mutate it.
func (s *Session) View(fn func(g *graph.Graph)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.graph)
}

// Close cancels the pending layout restart and stops the layout. Later
// operations fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.restart.Stop()
	s.layout.Stop()
	return nil
}

// lock acquires the session lock for one operation.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// unlock releases the session lock and delivers queued events.
func (s *Session) unlock() {
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	for _, ev := range out {
		s.events.Emit(ev.typ, ev.nodes...)
	}
}

// emit queues an event for delivery once the lock is released.
func (s *Session) emit(t events.Type, nodes ...graph.Identity) {
	s.outbox = append(s.outbox, pendingEvent{typ: t, nodes: nodes})
}

// restartLayout starts a layout pass now. Must hold s.mu.
func (s *Session) restartLayout() {
	s.layout.Start(s.settings.Layout)
	s.emit(events.TypeLayoutRestart)
}

func (s *Session) debouncedRestart() {
	if err := s.lock(); err != nil {
		return
	}
	defer s.unlock()
	s.restartLayout()
}

// storeFor returns the store owning storeID.
func (s *Session) storeFor(storeID string) (store.DataStore, bool) {
	st, ok := s.byID[storeID]
	return st, ok
}

// Pin tags nodes sticky "pinned".
func (s *Session) Pin(ids ...graph.Identity) error {
	return s.setSticky(graph.ClassPinned, true, ids)
}

// Unpin removes the "pinned" tag.
func (s *Session) Unpin(ids ...graph.Identity) error {
	return s.setSticky(graph.ClassPinned, false, ids)
}

func (s *Session) setSticky(class string, on bool, ids []graph.Identity) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.graph.Batch(func() {
		for _, id := range ids {
			n, ok := s.graph.Node(id)
			if !ok {
				continue
			}
			if on {
				n.AddClass(class)
			} else {
				n.RemoveClass(class)
			}
			s.graph.Touch(n)
		}
	})
	s.emit(events.TypeGraphChanged)
	return nil
}

// SetActive marks the active document. Only core identities qualify.
func (s *Session) SetActive(id graph.Identity) error {
	if id.StoreID != store.CoreStoreID {
		return fmt.Errorf("set active %s: %w", id, ErrNotCore)
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.active = &id
	s.graph.ClearClass(graph.ClassActive)
	if n, ok := s.graph.Node(id); ok {
		n.AddClass(graph.ClassActive)
	}
	s.emit(events.TypeGraphChanged)
	return nil
}

// Active returns the active document, if any.
func (s *Session) Active() (graph.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return graph.Identity{}, false
	}
	return *s.active, true
}

// SetLayout replaces the layout configuration used by later restarts.
func (s *Session) SetLayout(cfg api.LayoutConfig) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.settings.Layout = cfg
	return nil
}

// SetLocalGroups replaces the session's style groups and reassigns them.
func (s *Session) SetLocalGroups(groups []api.StyleGroup) error {
	compiled, err := style.Compile(style.Local, groups)
	if err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.settings.LocalGroups = groups
	s.local = compiled
	s.graph.Batch(func() { s.local.Apply(s.graph.Nodes()) })
	s.emit(events.TypeGraphChanged)
	return nil
}

// Settings returns a copy of the current view settings.
func (s *Session) Settings() api.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.settings
	cfg.LocalGroups = append([]api.StyleGroup(nil), s.settings.LocalGroups...)
	return cfg
}
