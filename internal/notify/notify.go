package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VoteCredit/internal/config"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event is published once per committed settlement.
type Event struct {
	IntentID          string      `json:"intentId"`
	UserID            string      `json:"userId"`
	Rail              models.Rail `json:"rail"`
	ExternalReference string      `json:"externalReference"`
	CreditCount       int64       `json:"creditCount"`
	Balance           int64       `json:"balance"`
	SettledAt         time.Time   `json:"settledAt"`
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

func New(cfg *config.Config) (Notifier, error) {
	switch cfg.Notify.Driver {
	case "", "log":
		return LogNotifier{}, nil
	case "redis":
		if cfg.Notify.RedisAddr == "" {
			return nil, fmt.Errorf("notify.redis_addr is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Notify.RedisAddr,
			DB:   cfg.Notify.RedisDB,
		})
		return NewRedisStream(client, cfg.Notify.Topic), nil
	case "kafka":
		if len(cfg.Notify.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("notify.kafka_brokers is required")
		}
		return NewKafka(cfg.Notify.KafkaBrokers, cfg.Notify.Topic), nil
	}
	return nil, fmt.Errorf("unknown notify driver %q", cfg.Notify.Driver)
}

type LogNotifier struct{}

func (LogNotifier) Publish(_ context.Context, ev Event) error {
	logger.Info("credits issued",
		zap.String("intent_id", ev.IntentID),
		zap.String("user_id", ev.UserID),
		zap.String("rail", string(ev.Rail)),
		zap.Int64("credits", ev.CreditCount),
		zap.Int64("balance", ev.Balance),
	)
	return nil
}

func (LogNotifier) Close() error { return nil }

type RedisStream struct {
	client *redis.Client
	stream string
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	return &RedisStream{client: client, stream: stream}
}

func (r *RedisStream) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"intent_id": ev.IntentID,
			"payload":   payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

func (r *RedisStream) Close() error {
	return r.client.Close()
}

type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

// Publish keys messages by user so one user's settlements stay ordered.
func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka write error: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
