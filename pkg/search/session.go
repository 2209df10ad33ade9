// Package search keeps the state of one interactive pattern search: the text
// being typed, the page requested and the last result set. Changes to the
// query or the page are debounced before a search call is made.
package search

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
)

const (
	DefaultLimit = 10

	// QueryDebounce is the quiet period after the last keystroke.
	QueryDebounce = 500 * time.Millisecond
	// EmptyDebounce applies when the box was cleared, so the full list comes
	// back almost immediately.
	EmptyDebounce = 100 * time.Millisecond
)

// Searcher runs a search against the pattern catalog.
type Searcher interface {
	SearchPatterns(ctx context.Context, req attack.SearchRequest) (*attack.SearchResponse, error)
}

// State is a snapshot of a session.
type State struct {
	Query     string                 `json:"query"`
	LastQuery string                 `json:"last_query"`
	Results   []attack.AttackPattern `json:"results"`
	Total     int                    `json:"total"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	Loading   bool                   `json:"loading"`
	Error     string                 `json:"error,omitempty"`
}

type Option func(*Session)

func WithClock(clock Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

func WithLimit(limit int) Option {
	return func(s *Session) {
		s.state.Limit = limit
	}
}

// WithDebounce overrides the quiet periods for non-empty and empty queries.
func WithDebounce(query, empty time.Duration) Option {
	return func(s *Session) {
		s.queryDelay = query
		s.emptyDelay = empty
	}
}

// Session is safe for concurrent use. Listeners registered with OnChange are
// called outside the session lock, in the goroutine that caused the change.
type Session struct {
	searcher Searcher
	clock    Clock

	queryDelay time.Duration
	emptyDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	err       error
	timer     Timer
	gen       uint64
	seq       uint64
	closed    bool
	listeners map[int]func(State)
	nextID    int
}

func New(searcher Searcher, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		searcher:   searcher,
		clock:      realClock{},
		queryDelay: QueryDebounce,
		emptyDelay: EmptyDebounce,
		ctx:        ctx,
		cancel:     cancel,
		state: State{
			Results: []attack.AttackPattern{},
			Limit:   DefaultLimit,
		},
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to receive a snapshot after every state change. The
// returned function unregisters it.
func (s *Session) OnChange(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Err returns the error of the last search, if it failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Search runs one search now. On success the results, the total and the
// executed query replace the previous ones. On failure the results are
// cleared, the error is recorded and returned.
func (s *Session) Search(ctx context.Context, query string, limit, offset int) (*attack.SearchResponse, error) {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, context.Canceled
	}
	s.seq++
	seq := s.seq
	s.state.Loading = true
	s.mu.Unlock()
	s.notify()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	resp, err := s.searcher.SearchPatterns(ctx, attack.SearchRequest{
		Query:  query,
		Limit:  limit,
		Offset: offset,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.Debug("[Search] Session closed during search", "query", query, "error", err)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	// A newer search has started; its outcome owns the state.
	if seq != s.seq {
		s.mu.Unlock()
		return resp, err
	}
	s.state.Loading = false
	if err != nil {
		s.state.Results = []attack.AttackPattern{}
		s.state.Total = 0
		s.state.Error = err.Error()
		s.err = err
	} else {
		s.state.Results = resp.Results
		if s.state.Results == nil {
			s.state.Results = []attack.AttackPattern{}
		}
		s.state.Total = resp.Total
		s.state.LastQuery = query
		s.state.Error = ""
		s.err = nil
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("[Search] Search canceled", "query", query)
		} else {
			logger.Error("[Search] Search failed", "query", query, "limit", limit, "offset", offset, "error", err)
		}
		return nil, err
	}
	logger.Debug("[Search] Search completed", "query", query, "total", resp.Total)
	return resp, nil
}

// TriggerSearch cancels any pending debounce and searches with the current
// query and page.
func (s *Session) TriggerSearch(ctx context.Context) (*attack.SearchResponse, error) {
	s.mu.Lock()
	s.stopTimerLocked()
	s.gen++
	query, limit, offset := s.state.Query, s.state.Limit, s.state.Offset
	s.mu.Unlock()
	return s.Search(ctx, query, limit, offset)
}

// ClearSearch empties the query and the results without searching again.
func (s *Session) ClearSearch() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.gen++
	s.seq++
	s.state.Query = ""
	s.state.LastQuery = ""
	s.state.Results = []attack.AttackPattern{}
	s.state.Total = 0
	s.state.Loading = false
	s.state.Error = ""
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

// UpdateQuery sets the query text, goes back to the first page and restarts
// the debounce timer.
func (s *Session) UpdateQuery(text string) {
	s.mu.Lock()
	s.state.Query = text
	s.state.Offset = 0
	s.scheduleLocked()
	s.mu.Unlock()
	s.notify()
}

// UpdatePagination sets the page window and restarts the debounce timer.
func (s *Session) UpdatePagination(limit, offset int) {
	s.mu.Lock()
	s.state.Limit = limit
	s.state.Offset = offset
	s.scheduleLocked()
	s.mu.Unlock()
	s.notify()
}

// Close cancels the pending timer and any search in flight. Later calls are
// no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.gen++
	s.listeners = make(map[int]func(State))
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) scheduleLocked() {
	if s.closed {
		return
	}
	s.stopTimerLocked()
	s.gen++
	gen := s.gen

	delay := s.queryDelay
	if strings.TrimSpace(s.state.Query) == "" {
		delay = s.emptyDelay
	}
	s.timer = s.clock.AfterFunc(delay, func() {
		s.fire(gen)
	})
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	// Stop does not prevent a callback that was already running; the
	// generation check drops it.
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	query, limit, offset := s.state.Query, s.state.Limit, s.state.Offset
	s.mu.Unlock()

	// Errors are already logged and recorded in the state.
	_, _ = s.Search(s.ctx, query, limit, offset)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Results = slices.Clone(s.state.Results)
	if st.Results == nil {
		st.Results = []attack.AttackPattern{}
	}
	return st
}

func (s *Session) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	st := s.snapshotLocked()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
