// structure_maintenance.go mirrors growth.go for structures per spec.md
// §4.6.3: ScheduleCampaigns is shared by the periodic "structureMaintenance"
// cron task (every campaign) and the reactive
// RecalculateStructureSchedules job (one campaign).
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/jakekausler/campaign-scheduler/internal/dispatcher"
	"github.com/jakekausler/campaign-scheduler/internal/graphqlclient"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
)

const (
	defaultMaintenanceIntervalMinutes = 120
	defaultMaxStructureLevel          = 5
	defaultStructureLevel             = 1
)

func intVar(vars map[string]interface{}, key string, def int) int {
	if vars == nil {
		return def
	}
	if v, ok := vars[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}

func boolVar(vars map[string]interface{}, key string, def bool) bool {
	if vars == nil {
		return def
	}
	if v, ok := vars[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// StructureMaintenanceHandler owns structure schedule computation and
// maintenance event application.
type StructureMaintenanceHandler struct {
	client StructuresClient
	queue  Enqueuer
	log    logger.Logger
}

func NewStructureMaintenanceHandler(client StructuresClient, queue Enqueuer) *StructureMaintenanceHandler {
	return &StructureMaintenanceHandler{client: client, queue: queue, log: logger.Default().WithComponent(logger.ComponentDomain)}
}

// ScheduleCampaigns computes and enqueues each structure's next
// maintenance events. campaignID == job.SystemCampaign fans out across
// every campaign; any other value scopes to that one campaign.
func (h *StructureMaintenanceHandler) ScheduleCampaigns(ctx context.Context, campaignID string) (scheduled, failedEntities int, err error) {
	campaignIDs, err := h.resolveCampaigns(ctx, campaignID)
	if err != nil {
		return 0, 0, err
	}

	for _, cid := range campaignIDs {
		structures, fetchErr := h.client.GetStructuresByCampaign(ctx, cid)
		if fetchErr != nil {
			h.log.Warn("structure maintenance: failed to fetch structures", "campaign_id", cid, "error", fetchErr)
			continue
		}
		for _, s := range structures {
			if scheduleErr := h.scheduleStructure(ctx, cid, s); scheduleErr != nil {
				failedEntities++
				h.log.Warn("structure maintenance: failed to schedule structure", "structure_id", s.ID, "error", scheduleErr)
				continue
			}
			scheduled++
		}
	}

	h.log.Info("structure maintenance: scheduling complete", "scheduled", scheduled, "failed_entities", failedEntities)
	return scheduled, failedEntities, nil
}

func (h *StructureMaintenanceHandler) resolveCampaigns(ctx context.Context, campaignID string) ([]string, error) {
	if campaignID != job.SystemCampaign {
		return []string{campaignID}, nil
	}
	ids, err := h.client.GetAllCampaignIds(ctx)
	if err != nil {
		return nil, fmt.Errorf("structure maintenance: failed to list campaigns: %w", err)
	}
	return ids, nil
}

func (h *StructureMaintenanceHandler) scheduleStructure(ctx context.Context, campaignID string, s graphqlclient.Structure) error {
	now := time.Now()
	isOperational := boolVar(s.Variables, "isOperational", true)

	if constructionMinutes := intVar(s.Variables, "constructionDurationMinutes", 0); constructionMinutes > 0 {
		if err := h.enqueueMaintenanceEvent(ctx, campaignID, s.ID, job.StructureConstructionComplete, nil, now.Add(time.Duration(constructionMinutes)*time.Minute)); err != nil {
			return err
		}
	}

	if isOperational {
		interval := intVar(s.Variables, "customMaintenanceIntervalMinutes", defaultMaintenanceIntervalMinutes)
		if err := h.enqueueMaintenanceEvent(ctx, campaignID, s.ID, job.StructureMaintenanceDue, nil, now.Add(time.Duration(interval)*time.Minute)); err != nil {
			return err
		}

		maxLevel := intVar(s.Variables, "maxLevel", defaultMaxStructureLevel)
		level := s.Level
		if level == 0 {
			level = defaultStructureLevel
		}
		if level < maxLevel {
			if err := h.enqueueMaintenanceEvent(ctx, campaignID, s.ID, job.StructureUpgradeAvailable, nil, now.Add(360*time.Minute)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (h *StructureMaintenanceHandler) enqueueMaintenanceEvent(ctx context.Context, campaignID, structureID string, maintenanceType job.StructureMaintenanceType, params map[string]interface{}, executeAt time.Time) error {
	payload := job.StructureMaintenancePayload{StructureID: structureID, MaintenanceType: maintenanceType, Parameters: params}
	newJob, err := job.New(job.KindStructureMaintenance, campaignID, payload)
	if err != nil {
		return err
	}
	_, err = h.queue.Enqueue(ctx, newJob, queueOptionsForDelay(delayUntil(executeAt)))
	return err
}

// RecalculateHandler adapts ScheduleCampaigns into the dispatcher handler
// for KindRecalculateStructureSchedules.
func (h *StructureMaintenanceHandler) RecalculateHandler() dispatcher.HandlerFunc {
	return func(ctx context.Context, j *job.Job) dispatcher.Outcome {
		if _, _, err := h.ScheduleCampaigns(ctx, j.CampaignID); err != nil {
			return dispatcher.Retry(err)
		}
		return dispatcher.Success()
	}
}

// ApplyMaintenanceHandler adapts applyMaintenance into the dispatcher
// handler for KindStructureMaintenance — the leaf job that mutates the
// structure when a previously-computed maintenance event's delay elapses.
func (h *StructureMaintenanceHandler) ApplyMaintenanceHandler() dispatcher.HandlerFunc {
	return func(ctx context.Context, j *job.Job) dispatcher.Outcome {
		decoded, err := job.DecodePayload(j.Kind, j.Payload)
		if err != nil {
			return dispatcher.Terminal(err)
		}
		payload, ok := decoded.(job.StructureMaintenancePayload)
		if !ok {
			return dispatcher.Terminal(fmt.Errorf("structure maintenance: unexpected payload type %T", decoded))
		}
		if err := h.applyMaintenance(ctx, payload); err != nil {
			return dispatcher.Retry(err)
		}
		return dispatcher.Success()
	}
}

func (h *StructureMaintenanceHandler) applyMaintenance(ctx context.Context, payload job.StructureMaintenancePayload) error {
	fields := map[string]interface{}{}

	switch payload.MaintenanceType {
	case job.StructureConstructionComplete:
		fields["isOperational"] = true
	case job.StructureMaintenanceDue:
		fields["maintenanceDueAt"] = time.Now().Format(time.RFC3339)
	case job.StructureUpgradeAvailable:
		fields["upgradeAvailable"] = true
	default:
		return fmt.Errorf("structure maintenance: unknown maintenance type %q", payload.MaintenanceType)
	}

	if err := h.client.UpdateStructure(ctx, payload.StructureID, fields); err != nil {
		return fmt.Errorf("structure maintenance: failed to apply %s to structure %s: %w", payload.MaintenanceType, payload.StructureID, err)
	}
	return nil
}
