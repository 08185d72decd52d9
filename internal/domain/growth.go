// growth.go implements settlement scheduling and growth per spec.md
// §4.3/§4.6.3. ScheduleCampaigns is shared by two callers: the periodic
// "settlementGrowth" cron task (campaignId == SYSTEM, every campaign) and
// the reactive RecalculateSettlementSchedules job (one campaign). Both
// compute each settlement's next growth events and enqueue one delayed
// SettlementGrowth job per event; ApplyGrowthHandler is what runs when
// those delayed jobs eventually fire.
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

// levelMultipliers scales growth intervals by entity level; unknown levels
// default to 1.0.
var levelMultipliers = map[int]float64{
	1: 1.0,
	2: 0.9,
	3: 0.8,
	4: 0.7,
	5: 0.6,
}

func multiplierFor(level int) float64 {
	if m, ok := levelMultipliers[level]; ok {
		return m
	}
	return 1.0
}

func floatVar(vars map[string]interface{}, key string, def float64) float64 {
	if vars == nil {
		return def
	}
	if v, ok := vars[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// SettlementGrowthHandler owns settlement schedule computation and growth
// event application.
type SettlementGrowthHandler struct {
	client SettlementsClient
	queue  Enqueuer
	log    logger.Logger
}

func NewSettlementGrowthHandler(client SettlementsClient, queue Enqueuer) *SettlementGrowthHandler {
	return &SettlementGrowthHandler{client: client, queue: queue, log: logger.Default().WithComponent(logger.ComponentDomain)}
}

// ScheduleCampaigns computes and enqueues each settlement's next growth
// events. campaignID == job.SystemCampaign fans out across every campaign;
// any other value scopes to that one campaign. A per-entity failure is
// counted and logged, never fatal to the whole run; a campaign whose
// settlements cannot be fetched is logged and skipped. Only a failure to
// list campaigns is surfaced as an error.
func (h *SettlementGrowthHandler) ScheduleCampaigns(ctx context.Context, campaignID string) (scheduled, failedEntities int, err error) {
	campaignIDs, err := h.resolveCampaigns(ctx, campaignID)
	if err != nil {
		return 0, 0, err
	}

	for _, cid := range campaignIDs {
		settlements, fetchErr := h.client.GetSettlementsByCampaign(ctx, cid)
		if fetchErr != nil {
			h.log.Warn("settlement growth: failed to fetch settlements", "campaign_id", cid, "error", fetchErr)
			continue
		}
		for _, s := range settlements {
			if scheduleErr := h.scheduleSettlement(ctx, cid, s); scheduleErr != nil {
				failedEntities++
				h.log.Warn("settlement growth: failed to schedule settlement", "settlement_id", s.ID, "error", scheduleErr)
				continue
			}
			scheduled++
		}
	}

	h.log.Info("settlement growth: scheduling complete", "scheduled", scheduled, "failed_entities", failedEntities)
	return scheduled, failedEntities, nil
}

func (h *SettlementGrowthHandler) resolveCampaigns(ctx context.Context, campaignID string) ([]string, error) {
	if campaignID != job.SystemCampaign {
		return []string{campaignID}, nil
	}
	ids, err := h.client.GetAllCampaignIds(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement growth: failed to list campaigns: %w", err)
	}
	return ids, nil
}

func (h *SettlementGrowthHandler) scheduleSettlement(ctx context.Context, campaignID string, s graphqlclient.Settlement) error {
	now := time.Now()
	m := multiplierFor(s.Level)

	if err := h.enqueuePopulationGrowth(ctx, campaignID, s, m, now); err != nil {
		return err
	}
	if err := h.enqueueResourceGeneration(ctx, campaignID, s, m, now); err != nil {
		return err
	}
	return h.enqueueLevelUpCheck(ctx, campaignID, s, m, now)
}

func (h *SettlementGrowthHandler) enqueuePopulationGrowth(ctx context.Context, campaignID string, s graphqlclient.Settlement, m float64, now time.Time) error {
	intervalMinutes := floatVar(s.Variables, "customPopulationIntervalMinutes", 60*m)
	params := map[string]interface{}{
		"growthRate":        floatVar(s.Variables, "growthRate", 0.05),
		"currentPopulation": floatVar(s.Variables, "currentPopulation", 100),
		"populationCap":     floatVar(s.Variables, "populationCap", 1000),
	}
	return h.enqueueGrowthEvent(ctx, campaignID, s.ID, job.SettlementPopulationGrowth, params, now.Add(time.Duration(intervalMinutes*float64(time.Minute))))
}

func (h *SettlementGrowthHandler) enqueueResourceGeneration(ctx context.Context, campaignID string, s graphqlclient.Settlement, m float64, now time.Time) error {
	intervalMinutes := floatVar(s.Variables, "customResourceIntervalMinutes", 60*m)
	params := map[string]interface{}{
		"resourceTypes": []string{"food", "gold", "materials"},
		"rates": map[string]interface{}{
			"food":      floatVar(s.Variables, "foodRate", 10),
			"gold":      floatVar(s.Variables, "goldRate", 5),
			"materials": floatVar(s.Variables, "materialsRate", 3),
		},
	}
	return h.enqueueGrowthEvent(ctx, campaignID, s.ID, job.SettlementResourceGeneration, params, now.Add(time.Duration(intervalMinutes*float64(time.Minute))))
}

func (h *SettlementGrowthHandler) enqueueLevelUpCheck(ctx context.Context, campaignID string, s graphqlclient.Settlement, m float64, now time.Time) error {
	intervalMinutes := 360 * m
	params := map[string]interface{}{
		"threshold": float64(s.Level+1) * 500,
	}
	return h.enqueueGrowthEvent(ctx, campaignID, s.ID, job.SettlementLevelUpCheck, params, now.Add(time.Duration(intervalMinutes*float64(time.Minute))))
}

func (h *SettlementGrowthHandler) enqueueGrowthEvent(ctx context.Context, campaignID, settlementID string, eventType job.SettlementEventType, params map[string]interface{}, executeAt time.Time) error {
	payload := job.SettlementGrowthPayload{SettlementID: settlementID, EventType: eventType, Parameters: params}
	newJob, err := job.New(job.KindSettlementGrowth, campaignID, payload)
	if err != nil {
		return err
	}
	_, err = h.queue.Enqueue(ctx, newJob, queueOptionsForDelay(delayUntil(executeAt)))
	return err
}

// RecalculateHandler adapts ScheduleCampaigns into the dispatcher handler
// for KindRecalculateSettlementSchedules.
func (h *SettlementGrowthHandler) RecalculateHandler() dispatcher.HandlerFunc {
	return func(ctx context.Context, j *job.Job) dispatcher.Outcome {
		if _, _, err := h.ScheduleCampaigns(ctx, j.CampaignID); err != nil {
			return dispatcher.Retry(err)
		}
		return dispatcher.Success()
	}
}

// ApplyGrowthHandler adapts applyGrowth into the dispatcher handler for
// KindSettlementGrowth — the leaf job that mutates the settlement when a
// previously-computed growth event's delay elapses.
func (h *SettlementGrowthHandler) ApplyGrowthHandler() dispatcher.HandlerFunc {
	return func(ctx context.Context, j *job.Job) dispatcher.Outcome {
		decoded, err := job.DecodePayload(j.Kind, j.Payload)
		if err != nil {
			return dispatcher.Terminal(err)
		}
		payload, ok := decoded.(job.SettlementGrowthPayload)
		if !ok {
			return dispatcher.Terminal(fmt.Errorf("settlement growth: unexpected payload type %T", decoded))
		}
		if err := h.applyGrowth(ctx, payload); err != nil {
			return dispatcher.Retry(err)
		}
		return dispatcher.Success()
	}
}

func (h *SettlementGrowthHandler) applyGrowth(ctx context.Context, payload job.SettlementGrowthPayload) error {
	fields := map[string]interface{}{}

	switch payload.EventType {
	case job.SettlementPopulationGrowth:
		rate := floatVar(payload.Parameters, "growthRate", 0.05)
		current := floatVar(payload.Parameters, "currentPopulation", 100)
		populationCap := floatVar(payload.Parameters, "populationCap", 1000)
		next := current + current*rate
		if next > populationCap {
			next = populationCap
		}
		fields["currentPopulation"] = next
	case job.SettlementResourceGeneration:
		rawRates, _ := payload.Parameters["rates"].(map[string]interface{})
		fields["lastResourceGeneration"] = rawRates
	case job.SettlementLevelUpCheck:
		threshold := floatVar(payload.Parameters, "threshold", 0)
		fields["readyToLevelUp"] = threshold <= floatVar(payload.Parameters, "currentPopulation", 0)
	default:
		return fmt.Errorf("settlement growth: unknown event type %q", payload.EventType)
	}

	if err := h.client.UpdateSettlement(ctx, payload.SettlementID, fields); err != nil {
		return fmt.Errorf("settlement growth: failed to apply %s to settlement %s: %w", payload.EventType, payload.SettlementID, err)
	}
	return nil
}

func delayUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return d
}
