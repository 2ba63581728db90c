package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannelPrefix = "promanchat"

var ErrRelayClosed = errors.New("relay is closed")

// Envelope is the pub/sub message carrying one encoded room event.
type Envelope struct {
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
}

// RedisRelay fans room events across server instances over Redis pub/sub.
// Every instance, including the publisher, delivers from its subscription.
type RedisRelay struct {
	client *redis.Client
	prefix string
	origin string
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	subs   sync.WaitGroup
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL, prefix string, logger zerolog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRelay(client, prefix, logger), nil
}

func newRelay(client *redis.Client, prefix string, logger zerolog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	origin := uuid.NewString()
	return &RedisRelay{
		client: client,
		prefix: prefix,
		origin: origin,
		logger: logger.With().Str("component", "relay").Str("origin", origin).Logger(),
	}
}

// Channel returns the pub/sub channel for roomID.
func (r *RedisRelay) Channel(roomID string) string {
	return r.prefix + ":room:" + roomID
}

func (r *RedisRelay) pattern() string {
	return r.prefix + ":room:*"
}

// Origin identifies this instance in published envelopes.
func (r *RedisRelay) Origin() string { return r.origin }

func (r *RedisRelay) Publish(ctx context.Context, roomID string, payload []byte, excludeUserID string) error {
	if r.isClosed() {
		return ErrRelayClosed
	}
	data, err := json.Marshal(Envelope{
		Room:    roomID,
		Exclude: excludeUserID,
		Payload: payload,
		Origin:  r.origin,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(roomID), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.Channel(roomID), err)
	}
	return nil
}

// Subscribe listens on every room channel and calls deliver once per
// envelope until ctx is canceled. It returns after the subscription is
// confirmed by Redis.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(roomID string, payload []byte, excludeUserID string) int) error {
	if r.isClosed() {
		return ErrRelayClosed
	}
	pubsub := r.client.PSubscribe(ctx, r.pattern())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.pattern(), err)
	}

	r.subs.Add(1)
	go func() {
		defer r.subs.Done()
		defer pubsub.Close()
		r.listen(ctx, pubsub.Channel(), deliver)
	}()
	r.logger.Info().Str("pattern", r.pattern()).Msg("relay subscribed")
	return nil
}

func (r *RedisRelay) listen(ctx context.Context, messages <-chan *redis.Message, deliver func(string, []byte, string) int) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			env, err := r.decode(msg)
			if err != nil {
				r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping relay message")
				continue
			}
			deliver(env.Room, env.Payload, env.Exclude)
		}
	}
}

func (r *RedisRelay) decode(msg *redis.Message) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Room == "" || !strings.HasSuffix(msg.Channel, ":room:"+env.Room) {
		return nil, fmt.Errorf("envelope room %q does not match channel", env.Room)
	}
	return &env, nil
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close waits for subscriptions to end, then closes the client. Callers
// cancel the subscription context first.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.subs.Wait()
	return r.client.Close()
}
