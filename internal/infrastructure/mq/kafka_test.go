package mq

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		assert.Equal(t, `{"ok":true}`, string(val))
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrRequestTimedOut)

	p := NewKafkaPublisherWithProducer(producer)

	require.NoError(t, p.Publish(context.Background(), "topic", "acc-1", []byte(`{"ok":true}`)))
	assert.ErrorIs(t, p.Publish(context.Background(), "topic", "acc-1", []byte(`{}`)), sarama.ErrRequestTimedOut)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "topic", "acc-1", []byte(`{}`)), context.Canceled)

	assert.NoError(t, p.Close())
}

func TestNewKafkaConfig(t *testing.T) {
	cfg := NewKafkaConfig()
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Idempotent)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.NoError(t, cfg.Validate())
}

func TestLogPublisher(t *testing.T) {
	var got []string
	p := NewLogPublisher(func(topic, key string, value []byte) {
		got = append(got, topic+"/"+key+"/"+string(value))
	})
	require.NoError(t, p.Publish(context.Background(), "t", "k", []byte("v")))
	assert.Equal(t, []string{"t/k/v"}, got)
	assert.NoError(t, p.Close())
}
