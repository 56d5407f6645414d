package fanout

import (
	"fmt"
	"strings"

	dErrors "siraj/pkg/domain-errors"
)

// Metadata keys understood by the dispatcher.
const (
	// MetaEmail set to "true" marks an email-eligible transition.
	MetaEmail = "email"
	// MetaRecipientEmail supplies the address directly, skipping lookup.
	MetaRecipientEmail = "recipientEmail"
)

// StateChangeEvent describes one tracked entity transition. It is built by a
// caller, consumed once by Dispatch, and never stored.
type StateChangeEvent struct {
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
	// RecipientUserID is empty for broadcast events.
	RecipientUserID string            `json:"recipientUserId,omitempty"`
	NewState        string            `json:"newState"`
	Title           string            `json:"title"`
	Body            string            `json:"body"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Broadcast reports whether the event targets every user.
func (e StateChangeEvent) Broadcast() bool {
	return e.RecipientUserID == ""
}

// EmailEligible reports whether the transition asks for an email. Broadcast
// events never email.
func (e StateChangeEvent) EmailEligible() bool {
	return !e.Broadcast() && strings.EqualFold(e.Metadata[MetaEmail], "true")
}

// Validate checks the fields every channel needs.
func (e StateChangeEvent) Validate() error {
	if e.EntityKind == "" {
		return dErrors.New(dErrors.CodeBadRequest, "entity kind is required")
	}
	if e.EntityID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}
	if strings.TrimSpace(e.Title) == "" && strings.TrimSpace(e.Body) == "" {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("event for %s %s has no title or body", e.EntityKind, e.EntityID))
	}
	return nil
}
