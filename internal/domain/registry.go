package domain

import (
	"time"

	"github.com/jakekausler/campaign-scheduler/internal/dispatcher"
	"github.com/jakekausler/campaign-scheduler/internal/job"
)

// Clients bundles every GraphQL client slice the domain handlers need. A
// *graphqlclient.Client satisfies all four.
type Clients struct {
	Effects     EffectsClient
	Events      EventsClient
	Settlements SettlementsClient
	Structures  StructuresClient
}

// RegisterHandlers builds every C7 domain handler and registers it into
// registry under its job kind, per spec.md §4.6. gracePeriod configures
// the EventExpiration handler (non-positive falls back to
// DefaultGracePeriod).
func RegisterHandlers(registry *dispatcher.Registry, clients Clients, queue Enqueuer, gracePeriod time.Duration) {
	registry.Register(job.KindDeferredEffect, NewDeferredEffectHandler(clients.Effects))

	expiration := NewEventExpirationHandler(clients.Events, gracePeriod)
	registry.Register(job.KindEventExpiration, expiration.Handle)

	settlementGrowth := NewSettlementGrowthHandler(clients.Settlements, queue)
	registry.Register(job.KindSettlementGrowth, settlementGrowth.ApplyGrowthHandler())
	registry.Register(job.KindRecalculateSettlementSchedules, settlementGrowth.RecalculateHandler())

	structureMaintenance := NewStructureMaintenanceHandler(clients.Structures, queue)
	registry.Register(job.KindStructureMaintenance, structureMaintenance.ApplyMaintenanceHandler())
	registry.Register(job.KindRecalculateStructureSchedules, structureMaintenance.RecalculateHandler())
}
