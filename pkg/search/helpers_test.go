package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

func nopLogger() logrus.FieldLogger {
	return observability.NopLogger()
}

// memSynonymStore is an in-memory SynonymStore that counts calls
type memSynonymStore struct {
	mu       sync.Mutex
	entries  map[string]SynonymEntry
	fail     error
	lookups  int
	reverses int
}

func newMemSynonymStore(pairs map[string][]string) *memSynonymStore {
	s := &memSynonymStore{entries: make(map[string]SynonymEntry)}
	for term, syns := range pairs {
		s.entries[term] = SynonymEntry{ID: uuid.New().String(), Term: term, Synonyms: syns}
	}
	return s
}

func (s *memSynonymStore) Lookup(ctx context.Context, term string) (*SynonymEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.fail != nil {
		return nil, s.fail
	}
	if e, ok := s.entries[term]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *memSynonymStore) Reverse(ctx context.Context, term string) ([]SynonymEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reverses++
	if s.fail != nil {
		return nil, s.fail
	}
	var out []SynonymEntry
	for _, e := range s.entries {
		for _, syn := range e.Synonyms {
			if syn == term {
				out = append(out, e)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

func (s *memSynonymStore) Upsert(ctx context.Context, term string, synonyms []string) (*SynonymEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	e, ok := s.entries[term]
	if !ok {
		e = SynonymEntry{ID: uuid.New().String(), Term: term, CreatedAt: time.Now()}
	}
	e.Synonyms = synonyms
	e.UpdatedAt = time.Now()
	s.entries[term] = e
	return &e, nil
}

func (s *memSynonymStore) List(ctx context.Context, limit, offset int) ([]SynonymEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SynonymEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return Paginate(out, limit, offset), nil
}

// stubStrategy returns canned results, an error or a panic
type stubStrategy struct {
	entityType EntityType
	results    []SearchResult
	err        error
	panics     bool
	delay      time.Duration

	mu       sync.Mutex
	requests []StrategyRequest
}

func (s *stubStrategy) EntityType() EntityType { return s.entityType }

func (s *stubStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]SearchResult(nil), s.results...), nil
}

func (s *stubStrategy) lastRequest() StrategyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

// matchingStrategy returns results whose title contains any expansion term
type matchingStrategy struct {
	entityType EntityType
	docs       []SearchResult
}

func (s *matchingStrategy) EntityType() EntityType { return s.entityType }

func (s *matchingStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	var out []SearchResult
	for _, d := range s.docs {
		title := strings.ToLower(d.Title)
		for _, phrase := range req.Expansion.Phrases() {
			if strings.Contains(title, phrase) {
				out = append(out, d)
				break
			}
		}
	}
	return Paginate(out, req.Limit, 0), nil
}

func results(t EntityType, scores ...float64) []SearchResult {
	out := make([]SearchResult, len(scores))
	for i, s := range scores {
		out[i] = SearchResult{EntityType: t, ID: string(t) + "-" + string(rune('a'+i)), Title: string(t), Relevance: s}
	}
	return out
}

// memSavedStore is an in-memory SavedSearchStore with a unique alert index
type memSavedStore struct {
	mu       sync.Mutex
	searches map[string]*SavedSearch
	alerts   map[string][]SearchAlert
	touched  map[string]time.Time
	failOn   string
}

func newMemSavedStore() *memSavedStore {
	return &memSavedStore{
		searches: make(map[string]*SavedSearch),
		alerts:   make(map[string][]SearchAlert),
		touched:  make(map[string]time.Time),
	}
}

var errStoreDown = errors.New("store down")

func (s *memSavedStore) Create(ctx context.Context, ss *SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss.ID = uuid.New().String()
	ss.CreatedAt = time.Now().UTC()
	ss.UpdatedAt = ss.CreatedAt
	cp := *ss
	s.searches[ss.ID] = &cp
	return nil
}

func (s *memSavedStore) Get(ctx context.Context, id string) (*SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "get" {
		return nil, errStoreDown
	}
	ss, ok := s.searches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ss
	return &cp, nil
}

func (s *memSavedStore) List(ctx context.Context, userID *string, limit, offset int) ([]SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SavedSearch, 0)
	for _, ss := range s.searches {
		if userID != nil && (ss.UserID == nil || *ss.UserID != *userID) {
			continue
		}
		out = append(out, *ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return Paginate(out, limit, offset), nil
}

func (s *memSavedStore) Update(ctx context.Context, ss *SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.searches[ss.ID]; !ok {
		return ErrNotFound
	}
	cp := *ss
	s.searches[ss.ID] = &cp
	return nil
}

func (s *memSavedStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.searches[id]; !ok {
		return ErrNotFound
	}
	delete(s.searches, id)
	delete(s.alerts, id)
	return nil
}

func (s *memSavedStore) ListAlertEnabled(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, ss := range s.searches {
		if ss.AlertEnabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memSavedStore) ListAlerts(ctx context.Context, id string) ([]SearchAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchAlert(nil), s.alerts[id]...), nil
}

func (s *memSavedStore) InsertAlerts(ctx context.Context, id string, rs []SearchResult) ([]SearchAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "insert" {
		return nil, errStoreDown
	}
	seen := make(map[string]bool)
	for _, a := range s.alerts[id] {
		seen[a.Key()] = true
	}
	created := make([]SearchAlert, 0)
	for _, r := range rs {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		a := SearchAlert{ID: uuid.New().String(), SavedSearchID: id, EntityType: r.EntityType, EntityID: r.ID, CreatedAt: time.Now()}
		s.alerts[id] = append(s.alerts[id], a)
		created = append(created, a)
	}
	return created, nil
}

func (s *memSavedStore) TouchLastChecked(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.searches[id]
	if !ok {
		return ErrNotFound
	}
	ss.LastCheckedAt = &at
	s.touched[id] = at
	return nil
}

func (s *memSavedStore) alertCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts[id])
}

// memTelemetryStore captures inserted records
type memTelemetryStore struct {
	mu      sync.Mutex
	records []TelemetryRecord
	fail    error
}

func (s *memTelemetryStore) Insert(ctx context.Context, rec TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memTelemetryStore) List(ctx context.Context, limit, offset int, zeroOnly bool) (*TelemetryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TelemetryRecord
	for _, r := range s.records {
		if zeroOnly && !r.ZeroResultQuery {
			continue
		}
		out = append(out, r)
	}
	return &TelemetryPage{
		Records:    Paginate(out, limit, offset),
		Pagination: Pagination{Total: len(out), Limit: limit, Offset: offset},
	}, nil
}

func (s *memTelemetryStore) TopZeroResultQueries(ctx context.Context, since time.Time, limit int) ([]QueryCount, error) {
	return []QueryCount{}, nil
}

func (s *memTelemetryStore) snapshot() []TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TelemetryRecord(nil), s.records...)
}
