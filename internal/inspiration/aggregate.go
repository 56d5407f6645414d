// Package inspiration merges the three daily content facets into one
// aggregate per date, fires the "ready" notification exactly once, and picks
// the single inspiration shown each day.
package inspiration

import (
	"fmt"
	"strings"
	"time"

	dErrors "siraj/pkg/domain-errors"
)

// DateLayout keys aggregates by calendar date.
const DateLayout = "2006-01-02"

// Collection holds one DailyAggregate per date.
const Collection = "daily_inspirations"

// FacetKind is one of the three independently supplied pieces of a day.
type FacetKind string

const (
	FacetQuote  FacetKind = "quote"
	FacetHadith FacetKind = "hadith"
	FacetAyah   FacetKind = "ayah"
)

// FacetKinds lists every facet an aggregate needs to be complete.
var FacetKinds = []FacetKind{FacetQuote, FacetHadith, FacetAyah}

// ParseFacetKind validates a facet name.
func ParseFacetKind(s string) (FacetKind, error) {
	k := FacetKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case FacetQuote, FacetHadith, FacetAyah:
		return k, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown facet %q: want quote, hadith or ayah", s))
}

// Facet is one piece of content with its source.
type Facet struct {
	Text        string `json:"text"`
	Attribution string `json:"attribution,omitempty"`
}

func (f Facet) validate() error {
	if strings.TrimSpace(f.Text) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "facet text is required")
	}
	return nil
}

// DailyAggregate is keyed by Date. NotifiedAt is set exactly once, when the
// last of the three facets arrives.
type DailyAggregate struct {
	Date       string     `json:"date"`
	Quote      *Facet     `json:"quote,omitempty"`
	Hadith     *Facet     `json:"hadith,omitempty"`
	Ayah       *Facet     `json:"ayah,omitempty"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty"`
}

// Complete reports whether all three facets are present.
func (a *DailyAggregate) Complete() bool {
	return a != nil && a.Quote != nil && a.Hadith != nil && a.Ayah != nil
}

// Notified reports whether the ready notification has been claimed.
func (a *DailyAggregate) Notified() bool {
	return a != nil && a.NotifiedAt != nil
}

// Facet returns the stored facet of kind k, or nil.
func (a *DailyAggregate) Facet(k FacetKind) *Facet {
	if a == nil {
		return nil
	}
	switch k {
	case FacetQuote:
		return a.Quote
	case FacetHadith:
		return a.Hadith
	case FacetAyah:
		return a.Ayah
	}
	return nil
}

// ParseDate validates a YYYY-MM-DD date and returns its canonical form.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", s))
	}
	return t.Format(DateLayout), nil
}
