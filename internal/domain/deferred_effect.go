package domain

import (
	"context"
	"fmt"

	"github.com/jakekausler/campaign-scheduler/internal/dispatcher"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
)

// NewDeferredEffectHandler builds the handler for KindDeferredEffect jobs
// per spec.md §4.6.1: fetch, check tenancy, skip if inactive, execute.
func NewDeferredEffectHandler(client EffectsClient) dispatcher.HandlerFunc {
	log := logger.Default().WithComponent(logger.ComponentDomain)

	return func(ctx context.Context, j *job.Job) dispatcher.Outcome {
		decoded, err := job.DecodePayload(j.Kind, j.Payload)
		if err != nil {
			return dispatcher.Terminal(err)
		}
		payload, ok := decoded.(job.DeferredEffectPayload)
		if !ok {
			return dispatcher.Terminal(fmt.Errorf("deferred effect: unexpected payload type %T", decoded))
		}

		effect, err := client.GetEffect(ctx, payload.EffectID)
		if err != nil {
			return dispatcher.Retry(err)
		}
		if effect == nil {
			return dispatcher.Terminal(fmt.Errorf("deferred effect: effectId %s not found", payload.EffectID))
		}
		if effect.CampaignID != j.CampaignID {
			return dispatcher.Terminal(fmt.Errorf("deferred effect: cross-tenancy mismatch: effect %s belongs to campaign %s, job is for %s", payload.EffectID, effect.CampaignID, j.CampaignID))
		}
		if !effect.IsActive {
			log.Info("deferred effect skipped: inactive", "effect_id", payload.EffectID, "campaign_id", j.CampaignID)
			return dispatcher.Success()
		}

		result, err := client.ExecuteEffect(ctx, payload.EffectID)
		if err != nil {
			return dispatcher.Retry(err)
		}
		if !result.Success {
			return dispatcher.Retry(fmt.Errorf("deferred effect: execution failed: %s", result.Error))
		}
		return dispatcher.Success()
	}
}
