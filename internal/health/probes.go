package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisProbe pings the queue's backing Redis connection.
type RedisProbe struct {
	Client *redis.Client
}

func (p *RedisProbe) Name() string { return "redis" }

func (p *RedisProbe) Check(ctx context.Context) (ComponentStatus, string) {
	if err := p.Client.Ping(ctx).Err(); err != nil {
		return ComponentDown, err.Error()
	}
	return ComponentUp, "ok"
}

// Pinger is the slice of *pubsub.Bridge the subscriber probe depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisSubscriberProbe pings the dedicated pub/sub connection.
type RedisSubscriberProbe struct {
	Bridge Pinger
}

func (p *RedisSubscriberProbe) Name() string { return "redisSubscriber" }

func (p *RedisSubscriberProbe) Check(ctx context.Context) (ComponentStatus, string) {
	if p.Bridge == nil {
		return ComponentDown, "pub/sub bridge not initialized"
	}
	if err := p.Bridge.Ping(ctx); err != nil {
		return ComponentDown, err.Error()
	}
	return ComponentUp, "ok"
}

// QueueCounter is the slice of *queue.RedisQueue the queue probe depends on.
type QueueCounter interface {
	Count(ctx context.Context, state string) (int64, error)
}

// degradedRatio is the bull-queue-style failure ratio above which the queue
// is reported degraded rather than up, per spec.md §4.8.
const degradedRatio = 0.10

// QueueProbe reports the queue as degraded once failed jobs exceed 10% of
// all tracked jobs, and down when any state can't be counted at all (the
// backing store is unreachable).
type QueueProbe struct {
	Queue QueueCounter
}

func (p *QueueProbe) Name() string { return "bullQueue" }

func (p *QueueProbe) Check(ctx context.Context) (ComponentStatus, string) {
	active, errA := p.Queue.Count(ctx, "active")
	waiting, errW := p.Queue.Count(ctx, "waiting")
	delayed, errD := p.Queue.Count(ctx, "delayed")
	failed, errF := p.Queue.Count(ctx, "failed")
	if errA != nil || errW != nil || errD != nil || errF != nil {
		return ComponentDown, "queue backing store unreachable"
	}

	total := active + waiting + delayed + failed
	if total == 0 {
		return ComponentUp, "ok"
	}
	ratio := float64(failed) / float64(total)
	if ratio > degradedRatio {
		return ComponentDegraded, fmt.Sprintf("failed ratio %.2f exceeds %.2f", ratio, degradedRatio)
	}
	return ComponentUp, "ok"
}

// BreakerStater is the slice of *graphqlclient.Client the API probe depends
// on.
type BreakerStater interface {
	BreakerState() gobreaker.State
}

// APIProbe reports the upstream GraphQL API's health from its circuit
// breaker state rather than issuing a probe call of its own: an open
// breaker means the API is down, half-open means it is being tested again
// (degraded), and closed means up.
type APIProbe struct {
	Client BreakerStater
}

func (p *APIProbe) Name() string { return "api" }

func (p *APIProbe) Check(_ context.Context) (ComponentStatus, string) {
	switch p.Client.BreakerState() {
	case gobreaker.StateOpen:
		return ComponentDown, "circuit breaker open"
	case gobreaker.StateHalfOpen:
		return ComponentDegraded, "circuit breaker half-open"
	default:
		return ComponentUp, "ok"
	}
}
