package graphqlclient

import (
	"context"
	"encoding/json"
	"fmt"

	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
)

// Effect is the subset of an effect's fields the scheduler needs.
type Effect struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaignId"`
	IsActive   bool   `json:"isActive"`
}

// GetEffect fetches an effect by id, caching hits for 5 minutes.
func (c *Client) GetEffect(ctx context.Context, effectID string) (*Effect, error) {
	if cached, ok := c.effectCache.Get(effectID); ok {
		effect := cached.(Effect)
		return &effect, nil
	}

	const query = `query GetEffect($id: ID!) { getEffect(id: $id) { id campaignId isActive } }`
	data, err := c.do(ctx, "GetEffect", query, map[string]interface{}{"id": effectID})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		GetEffect *Effect `json:"getEffect"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: GetEffect: %v", scheduleerrors.ErrTransport, err)
	}
	if wrapper.GetEffect == nil {
		return nil, nil
	}

	c.effectCache.Put(effectID, *wrapper.GetEffect)
	return wrapper.GetEffect, nil
}

// InvalidateEffect drops a cached effect, e.g. after ExecuteEffect mutates it.
func (c *Client) InvalidateEffect(effectID string) {
	c.effectCache.Invalidate(effectID)
}

// ExecuteEffectResult is the outcome of running an effect.
type ExecuteEffectResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Execution struct {
		ID string `json:"id"`
	} `json:"execution"`
}

// ExecuteEffect runs an effect via the API.
func (c *Client) ExecuteEffect(ctx context.Context, effectID string) (*ExecuteEffectResult, error) {
	const mutation = `mutation ExecuteEffect($id: ID!) { executeEffect(id: $id) { success error execution { id } } }`
	data, err := c.do(ctx, "ExecuteEffect", mutation, map[string]interface{}{"id": effectID})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		ExecuteEffect *ExecuteEffectResult `json:"executeEffect"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: ExecuteEffect: %v", scheduleerrors.ErrTransport, err)
	}
	if wrapper.ExecuteEffect == nil {
		return nil, scheduleerrors.ErrEmptyResult
	}

	c.InvalidateEffect(effectID)
	return wrapper.ExecuteEffect, nil
}

// Event is an overdue (or otherwise scheduled) event.
type Event struct {
	ID          string `json:"id"`
	CampaignID  string `json:"campaignId"`
	ScheduledAt string `json:"scheduledAt"`
}

// GetOverdueEvents fetches the events the API reports as overdue for a
// campaign. No grace cutoff is sent with the query; callers filter the
// result against their own cutoff.
func (c *Client) GetOverdueEvents(ctx context.Context, campaignID string) ([]Event, error) {
	const query = `query GetOverdueEvents($campaignId: ID!) { getOverdueEvents(campaignId: $campaignId) { id campaignId scheduledAt } }`
	data, err := c.do(ctx, "GetOverdueEvents", query, map[string]interface{}{"campaignId": campaignID})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		GetOverdueEvents []Event `json:"getOverdueEvents"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: GetOverdueEvents: %v", scheduleerrors.ErrTransport, err)
	}
	return wrapper.GetOverdueEvents, nil
}

// ExpireEvent marks an event as expired.
func (c *Client) ExpireEvent(ctx context.Context, eventID string) error {
	const mutation = `mutation ExpireEvent($id: ID!) { expireEvent(id: $id) { id } }`
	_, err := c.do(ctx, "ExpireEvent", mutation, map[string]interface{}{"id": eventID})
	return err
}

// CompleteEvent marks an event as completed.
func (c *Client) CompleteEvent(ctx context.Context, eventID string) error {
	const mutation = `mutation CompleteEvent($id: ID!) { completeEvent(id: $id) { id } }`
	_, err := c.do(ctx, "CompleteEvent", mutation, map[string]interface{}{"id": eventID})
	return err
}

// GetAllCampaignIds lists every campaign id, cached for 5 minutes since
// campaign churn is rare relative to the polling interval.
func (c *Client) GetAllCampaignIds(ctx context.Context) ([]string, error) {
	const cacheKey = "all"
	if cached, ok := c.campaignCache.Get(cacheKey); ok {
		return cached.([]string), nil
	}

	const query = `query GetAllCampaignIds { getAllCampaignIds }`
	data, err := c.do(ctx, "GetAllCampaignIds", query, nil)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		GetAllCampaignIds []string `json:"getAllCampaignIds"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: GetAllCampaignIds: %v", scheduleerrors.ErrTransport, err)
	}

	c.campaignCache.Put(cacheKey, wrapper.GetAllCampaignIds)
	return wrapper.GetAllCampaignIds, nil
}

// Settlement is the subset of settlement fields growth handlers need.
type Settlement struct {
	ID         string                 `json:"id"`
	CampaignID string                 `json:"campaignId"`
	Level      int                    `json:"level"`
	Variables  map[string]interface{} `json:"variables"`
}

// GetSettlementsByCampaign lists settlements for a campaign.
func (c *Client) GetSettlementsByCampaign(ctx context.Context, campaignID string) ([]Settlement, error) {
	const query = `query GetSettlementsByCampaign($campaignId: ID!) { getSettlementsByCampaign(campaignId: $campaignId) { id campaignId level variables } }`
	data, err := c.do(ctx, "GetSettlementsByCampaign", query, map[string]interface{}{"campaignId": campaignID})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		GetSettlementsByCampaign []Settlement `json:"getSettlementsByCampaign"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: GetSettlementsByCampaign: %v", scheduleerrors.ErrTransport, err)
	}
	return wrapper.GetSettlementsByCampaign, nil
}

// UpdateSettlement persists mutated settlement fields.
func (c *Client) UpdateSettlement(ctx context.Context, settlementID string, fields map[string]interface{}) error {
	const mutation = `mutation UpdateSettlement($id: ID!, $fields: JSON!) { updateSettlement(id: $id, fields: $fields) { id } }`
	_, err := c.do(ctx, "UpdateSettlement", mutation, map[string]interface{}{"id": settlementID, "fields": fields})
	return err
}

// Structure is the subset of structure fields maintenance handlers need.
type Structure struct {
	ID         string                 `json:"id"`
	CampaignID string                 `json:"campaignId"`
	Level      int                    `json:"level"`
	Variables  map[string]interface{} `json:"variables"`
}

// GetStructuresByCampaign lists structures for a campaign.
func (c *Client) GetStructuresByCampaign(ctx context.Context, campaignID string) ([]Structure, error) {
	const query = `query GetStructuresByCampaign($campaignId: ID!) { getStructuresByCampaign(campaignId: $campaignId) { id campaignId level variables } }`
	data, err := c.do(ctx, "GetStructuresByCampaign", query, map[string]interface{}{"campaignId": campaignID})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		GetStructuresByCampaign []Structure `json:"getStructuresByCampaign"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: GetStructuresByCampaign: %v", scheduleerrors.ErrTransport, err)
	}
	return wrapper.GetStructuresByCampaign, nil
}

// UpdateStructure persists mutated structure fields.
func (c *Client) UpdateStructure(ctx context.Context, structureID string, fields map[string]interface{}) error {
	const mutation = `mutation UpdateStructure($id: ID!, $fields: JSON!) { updateStructure(id: $id, fields: $fields) { id } }`
	_, err := c.do(ctx, "UpdateStructure", mutation, map[string]interface{}{"id": structureID, "fields": fields})
	return err
}
