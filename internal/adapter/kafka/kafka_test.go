package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestMapMessageToRaw(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("a1b2c3"),
		Value:     []byte(`{"operator":"Play"}`),
		Topic:     "radio-measurements",
		Partition: 3,
		Offset:    17,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}

	raw := mapMessageToRaw(msg)

	assert.Equal(t, []byte("a1b2c3"), raw.Key)
	assert.JSONEq(t, `{"operator":"Play"}`, string(raw.Value))
	assert.Equal(t, "radio-measurements", raw.Topic)
	assert.Equal(t, 3, raw.Partition)
	assert.Equal(t, int64(17), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "application/json", raw.Headers["content-type"])
	assert.Nil(t, raw.Commit)
}

func TestMapMessageToRaw_NoHeaders(t *testing.T) {
	raw := mapMessageToRaw(kafkago.Message{Value: []byte(`{}`)})
	assert.Empty(t, raw.Headers)
	assert.NotNil(t, raw.Headers)
}
