package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

func redisChannel(room string) string {
	return "analysis:" + room
}

type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, room, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, redisChannel(room), data).Err(); err != nil {
		return fmt.Errorf("redis publish (room=%s): %w", room, err)
	}
	return nil
}

// Subscribe relays a room until ctx is cancelled. The returned channel is
// closed when the subscription ends.
func (n *RedisNotifier) Subscribe(ctx context.Context, room string) (<-chan Message, error) {
	ps := n.client.Subscribe(ctx, redisChannel(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe (room=%s): %w", room, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					slog.WarnContext(ctx, "dropping malformed progress event",
						"room", room,
						"error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
