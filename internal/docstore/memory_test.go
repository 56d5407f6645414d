package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	StoreContractSuite
}

func TestMemoryStoreSuite(t *testing.T) {
	s := &MemoryStoreSuite{}
	s.reset = func() { s.store = NewMemory() }
	suite.Run(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, "c", "1", map[string]any{"facet": map[string]any{"text": "original"}}, false))

	doc, err := store.Get(ctx, "c", "1")
	require.NoError(t, err)
	doc["facet"].(map[string]any)["text"] = "mutated"

	again, err := store.Get(ctx, "c", "1")
	require.NoError(t, err)
	assert.Equal(t, "original", again["facet"].(map[string]any)["text"])
}

func TestEncodeDecode(t *testing.T) {
	type facet struct {
		Text        string `json:"text"`
		Attribution string `json:"attribution,omitempty"`
	}
	fields, err := Encode(facet{Text: "Be kind"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "Be kind"}, fields)

	var out facet
	require.NoError(t, Decode(Document(fields), &out))
	assert.Equal(t, "Be kind", out.Text)
}

func TestValidateKey(t *testing.T) {
	store := NewMemory()
	_, err := store.Get(context.Background(), "", "x")
	assert.Error(t, err)
	assert.Error(t, store.Set(context.Background(), "c", "", nil, true))
}
