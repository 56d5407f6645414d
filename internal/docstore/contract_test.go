package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"siraj/pkg/platform/sentinel"
)

// StoreContractSuite is the behaviour every backend must share. Backend
// suites embed it and provide newStore.
type StoreContractSuite struct {
	suite.Suite
	store Store
	// reset runs before each test to start from an empty store.
	reset func()
}

func (s *StoreContractSuite) SetupTest() {
	if s.reset != nil {
		s.reset()
	}
}

func (s *StoreContractSuite) coll() string {
	return "test_" + uuid.NewString()[:8]
}

func (s *StoreContractSuite) TestGetMissingReturnsNotFound() {
	_, err := s.store.Get(context.Background(), s.coll(), "absent")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestSetReplaceAndMerge() {
	ctx := context.Background()
	coll := s.coll()

	s.Run("replace drops fields not written", func() {
		s.Require().NoError(s.store.Set(ctx, coll, "a", map[string]any{"x": 1, "y": "two"}, false))
		s.Require().NoError(s.store.Set(ctx, coll, "a", map[string]any{"z": true}, false))

		doc, err := s.store.Get(ctx, coll, "a")
		s.Require().NoError(err)
		s.Equal(Document{"id": "a", "z": true}, doc)
	})

	s.Run("merge keeps untouched fields", func() {
		s.Require().NoError(s.store.Set(ctx, coll, "b", map[string]any{"quote": map[string]any{"text": "q"}}, true))
		s.Require().NoError(s.store.Set(ctx, coll, "b", map[string]any{"hadith": map[string]any{"text": "h"}}, true))

		doc, err := s.store.Get(ctx, coll, "b")
		s.Require().NoError(err)
		s.Equal(map[string]any{"text": "q"}, doc["quote"])
		s.Equal(map[string]any{"text": "h"}, doc["hadith"])
	})

	s.Run("merge with nil removes the field", func() {
		s.Require().NoError(s.store.Set(ctx, coll, "c", map[string]any{"keep": "k", "drop": "d"}, true))
		s.Require().NoError(s.store.Set(ctx, coll, "c", map[string]any{"drop": nil}, true))

		doc, err := s.store.Get(ctx, coll, "c")
		s.Require().NoError(err)
		s.Equal("k", doc["keep"])
		s.NotContains(doc, "drop")
	})
}

func (s *StoreContractSuite) TestConcurrentMergesOnDifferentFieldsDoNotClobber() {
	ctx := context.Background()
	coll := s.coll()
	fields := []string{"quote", "hadith", "ayah", "f4", "f5", "f6", "f7", "f8"}

	var wg sync.WaitGroup
	for _, f := range fields {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.Set(ctx, coll, "day", map[string]any{f: map[string]any{"text": f}}, true))
		}()
	}
	wg.Wait()

	doc, err := s.store.Get(ctx, coll, "day")
	s.Require().NoError(err)
	for _, f := range fields {
		s.Equal(map[string]any{"text": f}, doc[f], "field %s", f)
	}
}

func (s *StoreContractSuite) TestConditionalSetAbsent() {
	ctx := context.Background()
	coll := s.coll()
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	pre := Precondition{Absent: []string{"notifiedAt"}}

	s.Run("missing document satisfies absent", func() {
		s.Require().NoError(s.store.ConditionalSet(ctx, coll, "new", map[string]any{"notifiedAt": now}, pre))
		doc, err := s.store.Get(ctx, coll, "new")
		s.Require().NoError(err)
		s.Equal("2025-03-10T06:00:00Z", doc["notifiedAt"])
	})

	s.Run("second claim conflicts", func() {
		err := s.store.ConditionalSet(ctx, coll, "new", map[string]any{"notifiedAt": now.Add(time.Hour)}, pre)
		s.ErrorIs(err, sentinel.ErrConflict)

		doc, err := s.store.Get(ctx, coll, "new")
		s.Require().NoError(err)
		s.Equal("2025-03-10T06:00:00Z", doc["notifiedAt"], "loser must not overwrite the claim")
	})

	s.Run("claim merges into existing document", func() {
		s.Require().NoError(s.store.Set(ctx, coll, "existing", map[string]any{"quote": "q"}, true))
		s.Require().NoError(s.store.ConditionalSet(ctx, coll, "existing", map[string]any{"notifiedAt": now}, pre))

		doc, err := s.store.Get(ctx, coll, "existing")
		s.Require().NoError(err)
		s.Equal("q", doc["quote"])
		s.NotNil(doc["notifiedAt"])
	})
}

func (s *StoreContractSuite) TestConditionalSetEquals() {
	ctx := context.Background()
	coll := s.coll()
	s.Require().NoError(s.store.Set(ctx, coll, "o1", map[string]any{"status": "pending"}, false))

	err := s.store.ConditionalSet(ctx, coll, "o1", map[string]any{"status": "shipped"},
		Precondition{Equals: map[string]any{"status": "processing"}})
	s.ErrorIs(err, sentinel.ErrConflict)

	err = s.store.ConditionalSet(ctx, coll, "o1", map[string]any{"status": "processing"},
		Precondition{Equals: map[string]any{"status": "pending"}})
	s.Require().NoError(err)

	err = s.store.ConditionalSet(ctx, coll, "missing", map[string]any{"status": "x"},
		Precondition{Equals: map[string]any{"status": "pending"}})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *StoreContractSuite) TestConcurrentClaimsHaveExactlyOneWinner() {
	ctx := context.Background()
	coll := s.coll()
	s.Require().NoError(s.store.Set(ctx, coll, "2025-03-10", map[string]any{"quote": "q"}, true))

	const contenders = 20
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.ConditionalSet(ctx, coll, "2025-03-10",
				map[string]any{"notifiedAt": time.Now().UTC()},
				Precondition{Absent: []string{"notifiedAt"}})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(contenders-1), conflicts.Load())
}

func (s *StoreContractSuite) TestQueryFilterOrderLimit() {
	ctx := context.Background()
	coll := s.coll()
	seed := []map[string]any{
		{"userId": "u1", "createdAt": "2025-03-10T06:00:00Z", "read": false},
		{"userId": "u1", "createdAt": "2025-03-10T08:00:00Z", "read": true},
		{"userId": "u2", "createdAt": "2025-03-10T07:00:00Z", "read": false},
		{"userId": "u1", "createdAt": "2025-03-10T09:00:00Z", "read": false},
	}
	for i, d := range seed {
		s.Require().NoError(s.store.Set(ctx, coll, string(rune('a'+i)), d, false))
	}

	s.Run("equality filter with descending order", func() {
		docs, err := s.store.Query(ctx, coll, Query{
			Filters: []Filter{Where("userId", "u1")},
			OrderBy: "createdAt",
			Desc:    true,
		})
		s.Require().NoError(err)
		s.Require().Len(docs, 3)
		s.Equal([]string{"d", "b", "a"}, ids(docs))
	})

	s.Run("limit", func() {
		docs, err := s.store.Query(ctx, coll, Query{OrderBy: "createdAt", Limit: 2})
		s.Require().NoError(err)
		s.Equal([]string{"a", "c"}, ids(docs))
	})

	s.Run("inequality filter", func() {
		docs, err := s.store.Query(ctx, coll, Query{Filters: []Filter{{Field: "userId", Op: OpNotEqual, Value: "u1"}}})
		s.Require().NoError(err)
		s.Equal([]string{"c"}, ids(docs))
	})

	s.Run("count with filters", func() {
		n, err := s.store.Count(ctx, coll, Where("userId", "u1"), Where("read", false))
		s.Require().NoError(err)
		s.Equal(2, n)

		n, err = s.store.Count(ctx, coll)
		s.Require().NoError(err)
		s.Equal(4, n)
	})

	s.Run("empty collection", func() {
		docs, err := s.store.Query(ctx, s.coll(), Query{})
		s.Require().NoError(err)
		s.Empty(docs)
	})
}

func (s *StoreContractSuite) TestDeleteIsIdempotent() {
	ctx := context.Background()
	coll := s.coll()
	s.Require().NoError(s.store.Set(ctx, coll, "x", map[string]any{"a": 1}, false))

	s.Require().NoError(s.store.Delete(ctx, coll, "x"))
	s.Require().NoError(s.store.Delete(ctx, coll, "x"))

	_, err := s.store.Get(ctx, coll, "x")
	s.ErrorIs(err, sentinel.ErrNotFound)

	n, err := s.store.Count(ctx, coll)
	s.Require().NoError(err)
	s.Zero(n)
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}
