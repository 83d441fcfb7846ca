package realtime

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisRelay fans events out through a Redis channel so every API process
// delivers to the sockets it holds. Each process, including the publisher,
// receives the envelope from Redis and delivers locally.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
}

// NewRedisRelay connects to redisURL and returns a relay for hub.
func NewRedisRelay(ctx context.Context, redisURL, channel string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisRelay{rdb: rdb, channel: channel, hub: hub}, nil
}

// Run subscribes to the channel and delivers envelopes to the local hub
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("relay: bad envelope")
				continue
			}
			r.hub.Deliver(env)
		}
	}
}

// Close releases the Redis connection.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}

// Unicast implements Notifier.
func (r *RedisRelay) Unicast(ctx context.Context, userID string, ev Event) {
	r.publish(ctx, ev, []string{userID}, false)
}

// Multicast implements Notifier.
func (r *RedisRelay) Multicast(ctx context.Context, userIDs []string, ev Event) {
	r.publish(ctx, ev, userIDs, false)
}

// Broadcast implements Notifier.
func (r *RedisRelay) Broadcast(ctx context.Context, ev Event) {
	r.publish(ctx, ev, nil, true)
}

// EndSessions implements Notifier. The order goes through Redis because the
// connection may be held by another process.
func (r *RedisRelay) EndSessions(ctx context.Context, userID, keepSessionID, reason string) {
	r.send(ctx, revokeEnvelope(userID, keepSessionID, reason))
}

func (r *RedisRelay) publish(ctx context.Context, ev Event, targets []string, all bool) {
	env, err := NewEnvelope(ev, targets, all)
	if err != nil {
		log.Error().Err(err).Msg("drop event")
		return
	}
	r.send(ctx, env)
}

// send falls back to local delivery when Redis is unreachable so users
// connected to this process are still served.
func (r *RedisRelay) send(ctx context.Context, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("drop event")
		return
	}
	if err := r.rdb.Publish(context.WithoutCancel(ctx), r.channel, body).Err(); err != nil {
		log.Warn().Err(err).Str("type", env.Type).Msg("relay publish failed, delivering locally")
		r.hub.Deliver(env)
	}
}
