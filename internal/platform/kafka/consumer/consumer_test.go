package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNewRequiresBrokersAndGroup(t *testing.T) {
	_, err := New(Config{GroupID: "g", Topics: []string{"t"}}, nil)
	assert.Error(t, err)

	_, err = New(Config{Brokers: []string{"localhost:9092"}, Topics: []string{"t"}}, nil)
	assert.Error(t, err)
}

func TestStartOffset(t *testing.T) {
	assert.Equal(t, kgo.NewOffset().AtEnd(), startOffset(Config{}), "new groups skip the backlog by default")
	assert.Equal(t, kgo.NewOffset().AtStart(), startOffset(Config{FromStart: true}))
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	msg := toMessage(&kgo.Record{
		Topic:     "state-changes",
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-9"),
		Value:     []byte(`{}`),
		Timestamp: ts,
		Headers:   []kgo.RecordHeader{{Key: "source", Value: []byte("orders")}},
	})
	require.NotNil(t, msg)
	assert.Equal(t, "state-changes", msg.Topic)
	assert.Equal(t, int32(2), msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, "order-9", string(msg.Key))
	assert.Equal(t, "orders", msg.Headers["source"])
	assert.Equal(t, ts, msg.Timestamp)
}
