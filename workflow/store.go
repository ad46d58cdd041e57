package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/songzhibin97/genai-bot/events"
	"github.com/songzhibin97/genai-bot/logging"
	"github.com/songzhibin97/genai-bot/types"
	"github.com/songzhibin97/genai-bot/view"
)

// ErrStateNotFound is returned for unknown, expired or foreign workflow tokens.
var ErrStateNotFound = errors.New("workflow state not found")

// Default lifetimes of a workflow.
const (
	DefaultTTL           = 15 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Stage is the position of a workflow in its state machine.
type Stage string

const (
	StageAwaitingModel Stage = "awaiting_model"
	StageAwaitingForm  Stage = "awaiting_form"
)

// State is an in-progress create or edit of one configuration.
type State struct {
	Token     string
	OwnerID   string
	Kind      types.Kind
	Stage     Stage
	ModelID   string
	EditingID uint64 // zero when creating
	Origin    view.Responder
	CreatedAt time.Time
}

type ownerKey struct {
	owner string
	kind  types.Kind
}

// Store holds live workflows keyed by token, at most one per (owner, kind).
type Store struct {
	mu      sync.Mutex
	states  map[string]*State
	byOwner map[ownerKey]string

	clock     Clock
	ttl       time.Duration
	publisher events.Publisher
	logger    logging.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces the system clock.
func WithClock(c Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithTTL sets how long a workflow may stay idle before it is swept.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPublisher emits workflow lifecycle events on p.
func WithPublisher(p events.Publisher) StoreOption {
	return func(s *Store) { s.publisher = p }
}

// WithStoreLogger sets the logger used by the sweeper.
func WithStoreLogger(l logging.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		states:  make(map[string]*State),
		byOwner: make(map[ownerKey]string),
		clock:   SystemClock(),
		ttl:     DefaultTTL,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a workflow for (owner, kind), discarding any previous one for
// the same pair, and returns its token.
func (s *Store) Create(owner string, kind types.Kind, origin view.Responder, modelID string, editingID uint64) string {
	stage := StageAwaitingForm
	if kind == types.KindImage && editingID == 0 && modelID == "" {
		stage = StageAwaitingModel
	}
	st := &State{
		Token:     uuid.NewString(),
		OwnerID:   owner,
		Kind:      kind,
		Stage:     stage,
		ModelID:   modelID,
		EditingID: editingID,
		Origin:    origin,
		CreatedAt: s.clock.Now(),
	}

	key := ownerKey{owner: owner, kind: kind}
	s.mu.Lock()
	if prev, ok := s.byOwner[key]; ok {
		delete(s.states, prev)
	}
	s.states[st.Token] = st
	s.byOwner[key] = st.Token
	s.mu.Unlock()

	s.emit(events.WorkflowStarted, st)
	return st.Token
}

// lookup returns the live state for token owned by requester. Callers hold mu.
func (s *Store) lookup(token, requester string) (*State, bool) {
	st, ok := s.states[token]
	if !ok || st.OwnerID != requester {
		return nil, false
	}
	if s.clock.Now().Sub(st.CreatedAt) > s.ttl {
		return nil, false
	}
	return st, true
}

// Get returns a copy of the workflow for token. It fails with ErrStateNotFound
// when the token is unknown, expired or owned by another user.
func (s *Store) Get(token, requester string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lookup(token, requester)
	if !ok {
		return State{}, ErrStateNotFound
	}
	return *st, nil
}

// Update applies fn to the workflow under the store lock and returns the result.
func (s *Store) Update(token, requester string, fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lookup(token, requester)
	if !ok {
		return State{}, ErrStateNotFound
	}
	fn(st)
	// Identity fields are owned by the store.
	st.Token, st.OwnerID = token, requester
	return *st, nil
}

// Take removes and returns the workflow in one step; of several concurrent
// callers for the same token exactly one succeeds.
func (s *Store) Take(token, requester string) (State, error) {
	s.mu.Lock()
	st, ok := s.lookup(token, requester)
	if ok {
		s.remove(st)
	}
	s.mu.Unlock()
	if !ok {
		return State{}, ErrStateNotFound
	}
	s.emit(events.WorkflowCompleted, st)
	return *st, nil
}

// Restore puts back a workflow removed by Take so it can be submitted again.
// It reports false when the owner has started a newer workflow of the same
// kind in the meantime; that workflow wins.
func (s *Store) Restore(st State) bool {
	key := ownerKey{owner: st.OwnerID, kind: st.Kind}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOwner[key]; ok {
		return false
	}
	restored := st
	s.states[st.Token] = &restored
	s.byOwner[key] = st.Token
	return true
}

// Delete removes the workflow for token if present.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[token]; ok {
		s.remove(st)
	}
}

func (s *Store) remove(st *State) {
	delete(s.states, st.Token)
	key := ownerKey{owner: st.OwnerID, kind: st.Kind}
	if s.byOwner[key] == st.Token {
		delete(s.byOwner, key)
	}
}

// Sweep removes every workflow older than the TTL at now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	var expired []*State
	s.mu.Lock()
	for _, st := range s.states {
		if now.Sub(st.CreatedAt) > s.ttl {
			expired = append(expired, st)
		}
	}
	for _, st := range expired {
		s.remove(st)
	}
	s.mu.Unlock()

	for _, st := range expired {
		s.emit(events.WorkflowExpired, st)
	}
	return len(expired)
}

// Len returns the number of stored workflows, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(s.clock.Now()); n > 0 {
				s.logger.Debug("swept expired workflows", "count", n)
			}
		}
	}
}

func (s *Store) emit(eventType string, st *State) {
	err := events.Emit(context.Background(), s.publisher, events.Event{
		Type: eventType,
		Key:  st.Token,
		Data: map[string]interface{}{"user_id": st.OwnerID, "kind": string(st.Kind)},
	})
	if err != nil {
		s.logger.Warn("publish workflow event", "type", eventType, "error", err)
	}
}
