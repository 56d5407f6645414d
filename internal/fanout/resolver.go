package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"siraj/internal/docstore"
	"siraj/pkg/platform/sentinel"
)

// UsersCollection holds user profile documents with an "email" field.
const UsersCollection = "users"

// DocumentEmailResolver reads users/{id}.email from the document store.
type DocumentEmailResolver struct {
	store docstore.Store
}

func NewDocumentEmailResolver(store docstore.Store) *DocumentEmailResolver {
	return &DocumentEmailResolver{store: store}
}

func (r *DocumentEmailResolver) ResolveEmail(ctx context.Context, userID string) (string, error) {
	doc, err := r.store.Get(ctx, UsersCollection, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", fmt.Errorf("user %s: %w", userID, sentinel.ErrNotFound)
		}
		return "", fmt.Errorf("resolve email: %w", err)
	}
	addr, _ := doc["email"].(string)
	if strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("user %s has no email: %w", userID, sentinel.ErrNotFound)
	}
	return addr, nil
}
