package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jakekausler/campaign-scheduler/internal/dispatcher"
	"github.com/jakekausler/campaign-scheduler/internal/graphqlclient"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
)

// DefaultGracePeriod is the default overdue cutoff: an event is overdue
// when scheduledAt < now - gracePeriod.
const DefaultGracePeriod = 5 * time.Minute

const expirationBatchSize = 10

// EventExpirationHandler expires overdue events, fanning out across every
// campaign when invoked for the reserved "SYSTEM" campaign per spec.md
// §4.6.2.
type EventExpirationHandler struct {
	client      EventsClient
	gracePeriod time.Duration
	log         logger.Logger
}

// NewEventExpirationHandler builds the handler. A non-positive gracePeriod
// falls back to DefaultGracePeriod; the grace period is otherwise
// runtime-configurable but must never be negative.
func NewEventExpirationHandler(client EventsClient, gracePeriod time.Duration) *EventExpirationHandler {
	if gracePeriod < 0 {
		gracePeriod = DefaultGracePeriod
	}
	if gracePeriod == 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &EventExpirationHandler{
		client:      client,
		gracePeriod: gracePeriod,
		log:         logger.Default().WithComponent(logger.ComponentDomain),
	}
}

// Handle implements dispatcher.HandlerFunc.
func (h *EventExpirationHandler) Handle(ctx context.Context, j *job.Job) dispatcher.Outcome {
	if j.CampaignID == job.SystemCampaign {
		campaignIDs, err := h.client.GetAllCampaignIds(ctx)
		if err != nil {
			return dispatcher.Retry(fmt.Errorf("event expiration: failed to list campaigns: %w", err))
		}

		var failedCampaigns int
		for _, campaignID := range campaignIDs {
			if err := h.processCampaign(ctx, campaignID); err != nil {
				failedCampaigns++
				h.log.Warn("event expiration: campaign processing failed", "campaign_id", campaignID, "error", err)
			}
		}
		if failedCampaigns > 0 {
			h.log.Warn("event expiration: completed with per-campaign failures", "failed_campaigns", failedCampaigns, "total_campaigns", len(campaignIDs))
		}
		return dispatcher.Success()
	}

	if err := h.processCampaign(ctx, j.CampaignID); err != nil {
		return dispatcher.Retry(err)
	}
	return dispatcher.Success()
}

// processCampaign fetches overdue events for one campaign and expires them
// in concurrent batches. It returns an error only when the fetch itself
// fails; per-event failures are tolerated and merely logged.
func (h *EventExpirationHandler) processCampaign(ctx context.Context, campaignID string) error {
	events, err := h.client.GetOverdueEvents(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("event expiration: failed to fetch overdue events for campaign %s: %w", campaignID, err)
	}

	overdue := h.filterOverdue(events)
	if len(overdue) == 0 {
		return nil
	}

	var succeeded, failed int
	for start := 0; start < len(overdue); start += expirationBatchSize {
		end := start + expirationBatchSize
		if end > len(overdue) {
			end = len(overdue)
		}
		batch := overdue[start:end]

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, ev := range batch {
			wg.Add(1)
			go func(eventID string) {
				defer wg.Done()
				if err := h.client.ExpireEvent(ctx, eventID); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					h.log.Warn("event expiration: failed to expire event", "event_id", eventID, "campaign_id", campaignID, "error", err)
					return
				}
				mu.Lock()
				succeeded++
				mu.Unlock()
			}(ev.ID)
		}
		wg.Wait()
	}

	h.log.Info("event expiration: batch complete", "campaign_id", campaignID, "succeeded", succeeded, "failed", failed, "total", len(overdue))
	return nil
}

// filterOverdue keeps only events whose scheduledAt is before the grace
// cutoff. Events with an unparseable scheduledAt are treated as overdue so
// they are not silently skipped forever.
func (h *EventExpirationHandler) filterOverdue(events []graphqlclient.Event) []graphqlclient.Event {
	cutoff := time.Now().Add(-h.gracePeriod)
	overdue := make([]graphqlclient.Event, 0, len(events))
	for _, ev := range events {
		scheduledAt, err := time.Parse(time.RFC3339, ev.ScheduledAt)
		if err != nil {
			overdue = append(overdue, ev)
			continue
		}
		if scheduledAt.Before(cutoff) {
			overdue = append(overdue, ev)
		}
	}
	return overdue
}
