// Package domain implements the handlers that actually do the campaign's
// work: executing deferred effects, expiring events, and growing
// settlements and structures over time. Each handler is grounded on the
// contract in spec.md §4.6 and returns a dispatcher.Outcome.
package domain

import (
	"context"
	"time"

	"github.com/jakekausler/campaign-scheduler/internal/graphqlclient"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/queue"
)

// EffectsClient is the slice of the GraphQL client the deferred-effect
// handler depends on.
type EffectsClient interface {
	GetEffect(ctx context.Context, effectID string) (*graphqlclient.Effect, error)
	ExecuteEffect(ctx context.Context, effectID string) (*graphqlclient.ExecuteEffectResult, error)
}

// EventsClient is the slice of the GraphQL client the event-expiration
// handler depends on.
type EventsClient interface {
	GetAllCampaignIds(ctx context.Context) ([]string, error)
	GetOverdueEvents(ctx context.Context, campaignID string) ([]graphqlclient.Event, error)
	ExpireEvent(ctx context.Context, eventID string) error
}

// SettlementsClient is the slice of the GraphQL client the settlement
// growth handler depends on.
type SettlementsClient interface {
	GetAllCampaignIds(ctx context.Context) ([]string, error)
	GetSettlementsByCampaign(ctx context.Context, campaignID string) ([]graphqlclient.Settlement, error)
	UpdateSettlement(ctx context.Context, settlementID string, fields map[string]interface{}) error
}

// StructuresClient is the slice of the GraphQL client the structure
// maintenance handler depends on.
type StructuresClient interface {
	GetAllCampaignIds(ctx context.Context) ([]string, error)
	GetStructuresByCampaign(ctx context.Context, campaignID string) ([]graphqlclient.Structure, error)
	UpdateStructure(ctx context.Context, structureID string, fields map[string]interface{}) error
}

// Enqueuer is the slice of the queue the domain handlers depend on to
// schedule follow-up work (delayed events, reactive recalculation jobs).
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job, opts queue.Options) (string, error)
}

// queueOptionsForDelay builds the Options for a delayed follow-up job,
// keeping Normal priority (growth and maintenance events are routine,
// not urgent).
func queueOptionsForDelay(delay time.Duration) queue.Options {
	return queue.Options{Priority: job.PriorityNormal, Delay: delay}
}
