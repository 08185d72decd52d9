// Package pubsub bridges the campaign platform's world-event channels into
// the job queue. Grounded on the teacher's internal/result package, which
// is the only place in the teacher repo that talks to Redis pub/sub
// (client.Subscribe + pubsub.Channel()); this package reimplements that
// pattern with its own reconnect/backoff loop per spec.md §4.4, since the
// teacher's usage is a one-shot wait rather than a long-lived subscriber.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakekausler/campaign-scheduler/internal/alert"
	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
	"github.com/jakekausler/campaign-scheduler/internal/queue"
)

const (
	worldTimeAdvancedPattern = "campaign.*.worldTimeAdvanced"
	entityModifiedPattern    = "campaign.*.entityModified"

	cooldownWindow = 5 * time.Second
	maxReconnects  = 10
	maxBackoff     = 60 * time.Second
)

// Enqueuer is the slice of the queue the bridge depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job, opts queue.Options) (string, error)
}

type worldTimeAdvancedPayload struct {
	CampaignID   string `json:"campaignId"`
	PreviousTime string `json:"previousTime"`
	NewTime      string `json:"newTime"`
}

type entityModifiedPayload struct {
	CampaignID string `json:"campaignId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Operation  string `json:"operation"`
}

// Bridge maintains a dedicated Redis pub/sub connection and translates
// world-event messages into queued jobs.
type Bridge struct {
	client *redis.Client
	queue  Enqueuer
	log    logger.Logger

	mu       sync.Mutex
	cooldown map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge opens a connection dedicated to pub/sub, distinct from the
// queue's backing connection, per spec.md §4.4.
func NewBridge(redisURL string, enqueuer Enqueuer) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("pubsub: invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", scheduleerrors.ErrPubSubUnavailable, err)
	}

	return &Bridge{
		client:   client,
		queue:    enqueuer,
		log:      logger.Default().WithComponent(logger.ComponentPubSub),
		cooldown: make(map[string]time.Time),
	}, nil
}

// Ping checks the dedicated subscriber connection, for the health probe.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Start subscribes to the world-event channel families and processes
// messages until the context is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.run(runCtx)
}

// Stop unsubscribes, closes the dedicated connection, and clears the
// cooldown map per spec.md §4.4's shutdown behavior.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}

	b.mu.Lock()
	b.cooldown = make(map[string]time.Time)
	b.mu.Unlock()

	b.client.Close()
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.PSubscribe(ctx, worldTimeAdvancedPattern, entityModifiedPattern)
		if err := b.drainUntilDisconnect(ctx, pubsub); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}

			attempts++
			if attempts > maxReconnects {
				alert.Critical(ctx, "pubsub", "exhausted reconnect attempts", map[string]interface{}{"attempts": attempts})
				return
			}

			backoff := time.Duration(1000*pow2(attempts-1)) * time.Millisecond
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			b.log.Warn("pubsub: connection lost, reconnecting", "attempt", attempts, "backoff", backoff)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		attempts = 0
		pubsub.Close()
		if ctx.Err() != nil {
			return
		}
	}
}

func pow2(n int) int64 {
	if n < 0 {
		return 1
	}
	return int64(1) << uint(n)
}

// drainUntilDisconnect reads messages until the subscription errors out
// (a disconnect) or the context is cancelled (a clean shutdown, reported
// as nil so the caller does not treat it as a reconnect-worthy failure).
func (b *Bridge) drainUntilDisconnect(ctx context.Context, pubsub *redis.PubSub) error {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub: subscription channel closed")
			}
			b.handleMessage(ctx, msg)
		}
	}
}

func (b *Bridge) handleMessage(ctx context.Context, msg *redis.Message) {
	switch {
	case matchesPattern(msg.Channel, "worldTimeAdvanced"):
		b.handleWorldTimeAdvanced(ctx, msg.Payload)
	case matchesPattern(msg.Channel, "entityModified"):
		b.handleEntityModified(ctx, msg.Payload)
	}
}

func matchesPattern(channel, suffix string) bool {
	if len(channel) < len(suffix) {
		return false
	}
	return channel[len(channel)-len(suffix):] == suffix
}

func (b *Bridge) handleWorldTimeAdvanced(ctx context.Context, raw string) {
	var payload worldTimeAdvancedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		b.log.Warn("pubsub: malformed worldTimeAdvanced payload, dropping", "error", err)
		return
	}
	if payload.CampaignID == "" {
		b.log.Warn("pubsub: worldTimeAdvanced payload missing campaignId, dropping")
		return
	}

	if b.debounced(payload.CampaignID) {
		return
	}

	b.enqueueAndLog(ctx, job.KindEventExpiration, payload.CampaignID, job.PriorityHigh)
	b.enqueueAndLog(ctx, job.KindRecalculateSettlementSchedules, payload.CampaignID, job.PriorityNormal)
	b.enqueueAndLog(ctx, job.KindRecalculateStructureSchedules, payload.CampaignID, job.PriorityNormal)
}

func (b *Bridge) debounced(campaignID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, ok := b.cooldown[campaignID]
	now := time.Now()
	if ok && now.Sub(last) < cooldownWindow {
		return true
	}
	b.cooldown[campaignID] = now
	return false
}

func (b *Bridge) enqueueAndLog(ctx context.Context, kind job.Kind, campaignID string, priority job.Priority) {
	newJob, err := job.New(kind, campaignID, job.EmptyPayload{})
	if err != nil {
		b.log.Error("pubsub: failed to build job", "kind", kind, "campaign_id", campaignID, "error", err)
		return
	}
	if _, err := b.queue.Enqueue(ctx, newJob, queue.Options{Priority: priority}); err != nil {
		b.log.Error("pubsub: failed to enqueue job", "kind", kind, "campaign_id", campaignID, "error", err)
	}
}

func (b *Bridge) handleEntityModified(ctx context.Context, raw string) {
	var payload entityModifiedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		b.log.Warn("pubsub: malformed entityModified payload, dropping", "error", err)
		return
	}
	if payload.CampaignID == "" {
		b.log.Warn("pubsub: entityModified payload missing campaignId, dropping")
		return
	}

	if payload.Operation == "DELETE" {
		return
	}
	if payload.Operation != "CREATE" && payload.Operation != "UPDATE" {
		return
	}

	switch payload.EntityType {
	case "Settlement":
		b.enqueueAndLog(ctx, job.KindRecalculateSettlementSchedules, payload.CampaignID, job.PriorityNormal)
	case "Structure":
		b.enqueueAndLog(ctx, job.KindRecalculateStructureSchedules, payload.CampaignID, job.PriorityNormal)
	default:
		// Event and Encounter modifications are handled by the periodic
		// expiration check, not reactively.
	}
}
