package inspiration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"siraj/internal/docstore"
	"siraj/pkg/requestcontext"
)

// CandidatesCollection holds the rotation pool.
const CandidatesCollection = "inspirations"

// CandidateType partitions the rotation pool.
type CandidateType string

const (
	CandidateQuote  CandidateType = "quote"
	CandidateHadith CandidateType = "hadith"
	CandidateAyat   CandidateType = "ayat"
)

// rotationOrder is indexed by day-of-year mod 3.
var rotationOrder = [3]CandidateType{CandidateQuote, CandidateHadith, CandidateAyat}

// Candidate is one entry of the rotation pool.
type Candidate struct {
	ID          string        `json:"id"`
	Type        CandidateType `json:"type"`
	Text        string        `json:"text"`
	Attribution string        `json:"attribution,omitempty"`
}

// TypeForDay returns the candidate type featured on day. The cycle restarts
// each January 1st, so the last days of one year and the first of the next
// can repeat a type.
func TypeForDay(day time.Time) CandidateType {
	return rotationOrder[day.YearDay()%len(rotationOrder)]
}

// PickToday deterministically selects today's candidate from pool. It filters
// pool (keeping its order) to TypeForDay(today) and takes index
// YearDay mod len(filtered). The choice is stable for an unchanged pool but
// shifts whenever candidates of that type are added or removed. ok is false
// when no candidate of the day's type exists.
func PickToday(pool []Candidate, today time.Time) (Candidate, bool) {
	want := TypeForDay(today)
	var filtered []Candidate
	for _, c := range pool {
		if c.Type == want {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return Candidate{}, false
	}
	return filtered[today.YearDay()%len(filtered)], true
}

// Selector loads the pool from the document store and applies PickToday in a
// fixed timezone, so "today" is the same calendar day for every caller.
type Selector struct {
	store    docstore.Store
	location *time.Location
	logger   *slog.Logger
	now      func(context.Context) time.Time
}

type SelectorOption func(*Selector)

func WithSelectorLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) {
		s.logger = logger
	}
}

func WithSelectorClock(now func(context.Context) time.Time) SelectorOption {
	return func(s *Selector) {
		s.now = now
	}
}

func NewSelector(store docstore.Store, location *time.Location, opts ...SelectorOption) *Selector {
	if location == nil {
		location = time.UTC
	}
	s := &Selector{
		store:    store,
		location: location,
		logger:   slog.Default(),
		now:      requestcontext.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the candidate for the current calendar day. ok is false when
// the pool has nothing of the day's type.
func (s *Selector) Today(ctx context.Context) (Candidate, bool, error) {
	today := s.now(ctx).In(s.location)

	docs, err := s.store.Query(ctx, CandidatesCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("type", string(TypeForDay(today)))},
	})
	if err != nil {
		return Candidate{}, false, fmt.Errorf("load inspiration pool: %w", err)
	}

	pool := make([]Candidate, 0, len(docs))
	for _, doc := range docs {
		var c Candidate
		if err := docstore.Decode(doc, &c); err != nil {
			s.logger.WarnContext(ctx, "skipping malformed inspiration candidate",
				"id", doc.ID(),
				"error", err,
			)
			continue
		}
		c.ID = doc.ID()
		pool = append(pool, c)
	}

	c, ok := PickToday(pool, today)
	return c, ok, nil
}
