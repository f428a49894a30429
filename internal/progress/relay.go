package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares events between server instances over Redis pub/sub.
// Publish delivers to the local hub right away and queues the event for Redis;
// events received from other instances are re-published into the local hub.
type RedisRelay struct {
	hub     *Hub
	rdb     *redis.Client
	channel string
	origin  string
	out     chan model.Event
	log     *zap.Logger
}

type relayEnvelope struct {
	Origin string      `json:"origin"`
	Event  model.Event `json:"event"`
}

func NewRedisRelay(hub *Hub, rdb *redis.Client, channel, origin string, log *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = "dmd:progress"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{
		hub:     hub,
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		out:     make(chan model.Event, 1024),
		log:     log.With(zap.String("component", "progress-relay")),
	}
}

func (r *RedisRelay) Publish(e model.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.hub.Publish(e)

	select {
	case r.out <- e:
	default:
		r.log.Warn("relay queue full, event not forwarded", zap.String("kind", e.Kind.String()), zap.String("run_id", e.RunID))
	}
}

// Run forwards queued events to Redis and relays remote events until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	go r.pump(ctx)

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("bad relay payload", zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Publish(env.Event)
		}
	}
}

func (r *RedisRelay) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.out:
			b, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: e})
			if err != nil {
				r.log.Warn("marshal relay event", zap.Error(err))
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil && ctx.Err() == nil {
				r.log.Warn("redis publish failed", zap.Error(err))
			}
		}
	}
}

var _ Publisher = (*RedisRelay)(nil)
