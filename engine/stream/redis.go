package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// RedisMirror decorates a Channel, additionally publishing every event to a
// Redis pub/sub topic so out-of-process consumers (recorders, dashboards)
// can follow the run. Publish failures never affect the wrapped channel.
type RedisMirror struct {
	next  Channel
	rdb   *redis.Client
	topic string
}

// NewRedisMirror wraps next, mirroring events onto workflow:events:<executionID>.
func NewRedisMirror(next Channel, rdb *redis.Client, executionID string) *RedisMirror {
	return &RedisMirror{
		next:  next,
		rdb:   rdb,
		topic: fmt.Sprintf("workflow:events:%s", executionID),
	}
}

func (m *RedisMirror) Send(v any) error {
	if data, err := json.Marshal(v); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		m.rdb.Publish(ctx, m.topic, data)
		cancel()
	}
	return m.next.Send(v)
}

func (m *RedisMirror) Close() error {
	return m.next.Close()
}
