package inspiration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siraj/internal/docstore"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func samplePool() []Candidate {
	return []Candidate{
		{ID: "q1", Type: CandidateQuote, Text: "quote one"},
		{ID: "h1", Type: CandidateHadith, Text: "hadith one"},
		{ID: "q2", Type: CandidateQuote, Text: "quote two"},
		{ID: "a1", Type: CandidateAyat, Text: "ayat one"},
		{ID: "q3", Type: CandidateQuote, Text: "quote three"},
		{ID: "h2", Type: CandidateHadith, Text: "hadith two"},
		{ID: "q4", Type: CandidateQuote, Text: "quote four"},
	}
}

func TestPickToday(t *testing.T) {
	t.Run("same day same pick", func(t *testing.T) {
		first, ok := PickToday(samplePool(), day(2025, 3, 10))
		require.True(t, ok)
		second, _ := PickToday(samplePool(), day(2025, 3, 10))
		assert.Equal(t, first, second)
	})

	t.Run("day 69 picks the second quote", func(t *testing.T) {
		// 69 % 3 == 0 selects quotes; 69 % 4 == 1.
		c, ok := PickToday(samplePool(), day(2025, 3, 10))
		require.True(t, ok)
		assert.Equal(t, "q2", c.ID)
	})

	t.Run("consecutive days cycle through every type", func(t *testing.T) {
		var got []CandidateType
		for i := 0; i < 3; i++ {
			c, ok := PickToday(samplePool(), day(2025, 3, 10+i))
			require.True(t, ok)
			got = append(got, c.Type)
		}
		assert.Equal(t, []CandidateType{CandidateQuote, CandidateHadith, CandidateAyat}, got)
	})

	t.Run("no candidate of the day's type", func(t *testing.T) {
		pool := []Candidate{{ID: "q1", Type: CandidateQuote, Text: "only quotes"}}
		_, ok := PickToday(pool, day(2025, 3, 11))
		assert.False(t, ok)
	})

	t.Run("empty pool", func(t *testing.T) {
		_, ok := PickToday(nil, day(2025, 3, 10))
		assert.False(t, ok)
	})

	t.Run("cycle restarts at the new year", func(t *testing.T) {
		// Day 364 and day 1 both land on hadith.
		assert.Equal(t, CandidateHadith, TypeForDay(day(2025, 12, 30)))
		assert.Equal(t, CandidateAyat, TypeForDay(day(2025, 12, 31)))
		assert.Equal(t, CandidateHadith, TypeForDay(day(2026, 1, 1)))
	})
}

func TestSelectorToday(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	for _, c := range samplePool() {
		fields, err := docstore.Encode(c)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, CandidatesCollection, c.ID, fields, false))
	}

	riyadh := time.FixedZone("AST", 3*60*60)
	// 22:30 UTC on March 9th is already March 10th in UTC+3.
	now := time.Date(2025, 3, 9, 22, 30, 0, 0, time.UTC)
	sel := NewSelector(store, riyadh,
		WithSelectorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSelectorClock(func(context.Context) time.Time { return now }),
	)

	c, ok, err := sel.Today(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	// Stored pool is id-ordered: q1, q2, q3, q4.
	assert.Equal(t, "q2", c.ID)
	assert.Equal(t, "quote two", c.Text)
}
