package notify

import (
	"context"
	"testing"

	"VoteCredit/internal/config"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsDriver(t *testing.T) {
	cfg := &config.Config{}

	n, err := New(cfg)
	require.NoError(t, err)
	require.IsType(t, LogNotifier{}, n)
	require.NoError(t, n.Publish(context.Background(), Event{IntentID: "i1"}))

	cfg.Notify.Driver = "redis"
	_, err = New(cfg)
	require.Error(t, err)

	cfg.Notify.RedisAddr = "127.0.0.1:6379"
	n, err = New(cfg)
	require.NoError(t, err)
	require.IsType(t, &RedisStream{}, n)
	require.NoError(t, n.Close())

	cfg.Notify.Driver = "kafka"
	_, err = New(cfg)
	require.Error(t, err)

	cfg.Notify.KafkaBrokers = []string{"127.0.0.1:9092"}
	n, err = New(cfg)
	require.NoError(t, err)
	require.IsType(t, &Kafka{}, n)
	require.NoError(t, n.Close())

	cfg.Notify.Driver = "sns"
	_, err = New(cfg)
	require.Error(t, err)
}
