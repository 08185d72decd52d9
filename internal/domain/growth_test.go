package domain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jakekausler/campaign-scheduler/internal/graphqlclient"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/queue"
)

type fakeSettlementsClient struct {
	campaignIDs   []string
	campaignErr   error
	campaignCalls int
	settlements map[string][]graphqlclient.Settlement
	fetchErr    map[string]error
	updateErr   error
	updateCalls []string
}

func (f *fakeSettlementsClient) GetAllCampaignIds(ctx context.Context) ([]string, error) {
	f.campaignCalls++
	if f.campaignErr != nil {
		return nil, f.campaignErr
	}
	return f.campaignIDs, nil
}

func (f *fakeSettlementsClient) GetSettlementsByCampaign(ctx context.Context, campaignID string) ([]graphqlclient.Settlement, error) {
	if err, ok := f.fetchErr[campaignID]; ok {
		return nil, err
	}
	return f.settlements[campaignID], nil
}

func (f *fakeSettlementsClient) UpdateSettlement(ctx context.Context, settlementID string, fields map[string]interface{}) error {
	f.updateCalls = append(f.updateCalls, settlementID)
	return f.updateErr
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []*job.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, j *job.Job, opts queue.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, j)
	return j.ID, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func TestSettlementGrowth_SystemFanOutSchedulesThreeEventsPerSettlement(t *testing.T) {
	client := &fakeSettlementsClient{
		campaignIDs: []string{"campaign-1"},
		settlements: map[string][]graphqlclient.Settlement{
			"campaign-1": {{ID: "settlement-1", CampaignID: "campaign-1", Level: 2}},
		},
	}
	enq := &fakeEnqueuer{}
	handler := NewSettlementGrowthHandler(client, enq)

	scheduled, failed, err := handler.ScheduleCampaigns(context.Background(), job.SystemCampaign)
	if err != nil {
		t.Fatalf("ScheduleCampaigns: %v", err)
	}
	if scheduled != 1 || failed != 0 {
		t.Fatalf("expected 1 scheduled, 0 failed, got scheduled=%d failed=%d", scheduled, failed)
	}
	if enq.count() != 3 {
		t.Fatalf("expected 3 enqueued growth events (population/resource/levelup), got %d", enq.count())
	}
}

func TestSettlementGrowth_SingleCampaignScope(t *testing.T) {
	client := &fakeSettlementsClient{
		settlements: map[string][]graphqlclient.Settlement{
			"campaign-1": {{ID: "settlement-1", CampaignID: "campaign-1", Level: 1}},
		},
	}
	enq := &fakeEnqueuer{}
	handler := NewSettlementGrowthHandler(client, enq)

	scheduled, _, err := handler.ScheduleCampaigns(context.Background(), "campaign-1")
	if err != nil {
		t.Fatalf("ScheduleCampaigns: %v", err)
	}
	if scheduled != 1 {
		t.Fatalf("expected 1 scheduled, got %d", scheduled)
	}
	if client.campaignCalls != 0 {
		t.Errorf("GetAllCampaignIds should not be needed for a scoped campaign")
	}
}

func TestSettlementGrowth_CampaignListFailureReturnsError(t *testing.T) {
	client := &fakeSettlementsClient{campaignErr: errors.New("down")}
	handler := NewSettlementGrowthHandler(client, &fakeEnqueuer{})

	_, _, err := handler.ScheduleCampaigns(context.Background(), job.SystemCampaign)
	if err == nil {
		t.Fatal("expected error when campaign listing fails")
	}
}

func TestSettlementGrowth_PerEntityFailureIsCountedNotFatal(t *testing.T) {
	client := &fakeSettlementsClient{
		settlements: map[string][]graphqlclient.Settlement{
			"campaign-1": {{ID: "settlement-1", CampaignID: "campaign-1", Level: 1}},
		},
	}
	enq := &fakeEnqueuer{err: errors.New("queue unavailable")}
	handler := NewSettlementGrowthHandler(client, enq)

	scheduled, failed, err := handler.ScheduleCampaigns(context.Background(), "campaign-1")
	if err != nil {
		t.Fatalf("expected no top-level error, got %v", err)
	}
	if scheduled != 0 || failed != 1 {
		t.Fatalf("expected scheduled=0 failed=1, got scheduled=%d failed=%d", scheduled, failed)
	}
}

func TestSettlementGrowth_RecalculateHandlerAdaptsToDispatcher(t *testing.T) {
	client := &fakeSettlementsClient{
		settlements: map[string][]graphqlclient.Settlement{
			"campaign-1": {{ID: "settlement-1", CampaignID: "campaign-1", Level: 1}},
		},
	}
	enq := &fakeEnqueuer{}
	handler := NewSettlementGrowthHandler(client, enq)

	j, err := job.New(job.KindRecalculateSettlementSchedules, "campaign-1", job.EmptyPayload{})
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	outcome := handler.RecalculateHandler()(context.Background(), j)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if enq.count() != 3 {
		t.Fatalf("expected 3 enqueued events, got %d", enq.count())
	}
}

func TestSettlementGrowth_ApplyGrowthHandlerUpdatesPopulation(t *testing.T) {
	client := &fakeSettlementsClient{}
	handler := NewSettlementGrowthHandler(client, &fakeEnqueuer{})

	payload := job.SettlementGrowthPayload{
		SettlementID: "settlement-1",
		EventType:    job.SettlementPopulationGrowth,
		Parameters:   map[string]interface{}{"growthRate": 0.1, "currentPopulation": 100.0, "populationCap": 1000.0},
	}
	j, err := job.New(job.KindSettlementGrowth, "campaign-1", payload)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}

	outcome := handler.ApplyGrowthHandler()(context.Background(), j)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %+v (err=%v)", outcome, outcome.Err())
	}
	if len(client.updateCalls) != 1 || client.updateCalls[0] != "settlement-1" {
		t.Fatalf("expected UpdateSettlement called once for settlement-1, got %+v", client.updateCalls)
	}
}

func TestSettlementGrowth_ApplyGrowthHandlerUpdateErrorRetries(t *testing.T) {
	client := &fakeSettlementsClient{updateErr: errors.New("rejected")}
	handler := NewSettlementGrowthHandler(client, &fakeEnqueuer{})

	payload := job.SettlementGrowthPayload{SettlementID: "settlement-1", EventType: job.SettlementLevelUpCheck, Parameters: map[string]interface{}{}}
	j, err := job.New(job.KindSettlementGrowth, "campaign-1", payload)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}

	outcome := handler.ApplyGrowthHandler()(context.Background(), j)
	if !outcome.IsRetry() {
		t.Fatalf("expected retry outcome, got %+v", outcome)
	}
}

func TestMultiplierFor_UnknownLevelDefaultsToOne(t *testing.T) {
	if m := multiplierFor(99); m != 1.0 {
		t.Errorf("expected default multiplier 1.0, got %v", m)
	}
	if m := multiplierFor(3); m != 0.8 {
		t.Errorf("expected level 3 multiplier 0.8, got %v", m)
	}
}
