package bridge

import (
	"context"
	"encoding/json"
	"sync"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/model"
	"go.uber.org/zap"
)

// NotificationSink delivers an event to whoever watches the pipeline.
type NotificationSink interface {
	Notify(ctx context.Context, kind model.EventKind, payload map[string]any) error
}

var _ NotificationSink = new(LogSink)
var _ NotificationSink = new(RedisSink)
var _ NotificationSink = new(MemorySink)

type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Notify(ctx context.Context, kind model.EventKind, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info("notification", zap.String("kind", string(kind)), zap.Any("payload", payload))
	return nil
}

// RedisSink publishes every event as JSON on a pub/sub channel.
type RedisSink struct {
	client  rd.UniversalClient
	channel string
}

func NewRedisSink(client rd.UniversalClient, channel string) *RedisSink {
	return &RedisSink{
		client:  client,
		channel: channel,
	}
}

func NewRedisSinkFromAddrs(addrs []string, password string, channel string) *RedisSink {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
	return NewRedisSink(client, channel)
}

type envelope struct {
	Kind    model.EventKind `json:"kind"`
	Payload map[string]any  `json:"payload"`
}

func (s *RedisSink) Notify(ctx context.Context, kind model.EventKind, payload map[string]any) error {
	data, err := json.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

type Notification struct {
	Kind    model.EventKind
	Payload map[string]any
}

// MemorySink keeps every notification in order.
type MemorySink struct {
	mu            sync.Mutex
	notifications []Notification
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Notify(ctx context.Context, kind model.EventKind, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Notification{Kind: kind, Payload: payload})
	return nil
}

func (s *MemorySink) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Count returns how many notifications of kind were delivered.
func (s *MemorySink) Count(kind model.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, nt := range s.notifications {
		if nt.Kind == kind {
			n++
		}
	}
	return n
}
