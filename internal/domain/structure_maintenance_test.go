package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/jakekausler/campaign-scheduler/internal/graphqlclient"
	"github.com/jakekausler/campaign-scheduler/internal/job"
)

type fakeStructuresClient struct {
	campaignIDs []string
	campaignErr error
	structures  map[string][]graphqlclient.Structure
	fetchErr    map[string]error
	updateErr   error
	updateCalls []string
}

func (f *fakeStructuresClient) GetAllCampaignIds(ctx context.Context) ([]string, error) {
	if f.campaignErr != nil {
		return nil, f.campaignErr
	}
	return f.campaignIDs, nil
}

func (f *fakeStructuresClient) GetStructuresByCampaign(ctx context.Context, campaignID string) ([]graphqlclient.Structure, error) {
	if err, ok := f.fetchErr[campaignID]; ok {
		return nil, err
	}
	return f.structures[campaignID], nil
}

func (f *fakeStructuresClient) UpdateStructure(ctx context.Context, structureID string, fields map[string]interface{}) error {
	f.updateCalls = append(f.updateCalls, structureID)
	return f.updateErr
}

func TestStructureMaintenance_OperationalBelowMaxLevelSchedulesUpgrade(t *testing.T) {
	client := &fakeStructuresClient{
		structures: map[string][]graphqlclient.Structure{
			"campaign-1": {{ID: "structure-1", CampaignID: "campaign-1", Level: 2}},
		},
	}
	enq := &fakeEnqueuer{}
	handler := NewStructureMaintenanceHandler(client, enq)

	scheduled, failed, err := handler.ScheduleCampaigns(context.Background(), "campaign-1")
	if err != nil {
		t.Fatalf("ScheduleCampaigns: %v", err)
	}
	if scheduled != 1 || failed != 0 {
		t.Fatalf("expected scheduled=1 failed=0, got scheduled=%d failed=%d", scheduled, failed)
	}
	if enq.count() != 2 {
		t.Fatalf("expected 2 events (MaintenanceDue + UpgradeAvailable), got %d", enq.count())
	}
}

func TestStructureMaintenance_AtMaxLevelSkipsUpgrade(t *testing.T) {
	client := &fakeStructuresClient{
		structures: map[string][]graphqlclient.Structure{
			"campaign-1": {{ID: "structure-1", CampaignID: "campaign-1", Level: 5}},
		},
	}
	enq := &fakeEnqueuer{}
	handler := NewStructureMaintenanceHandler(client, enq)

	if _, _, err := handler.ScheduleCampaigns(context.Background(), "campaign-1"); err != nil {
		t.Fatalf("ScheduleCampaigns: %v", err)
	}
	if enq.count() != 1 {
		t.Fatalf("expected only MaintenanceDue at max level, got %d events", enq.count())
	}
}

func TestStructureMaintenance_UnderConstructionSchedulesConstructionComplete(t *testing.T) {
	client := &fakeStructuresClient{
		structures: map[string][]graphqlclient.Structure{
			"campaign-1": {{
				ID: "structure-1", CampaignID: "campaign-1", Level: 1,
				Variables: map[string]interface{}{"constructionDurationMinutes": 30.0, "isOperational": false},
			}},
		},
	}
	enq := &fakeEnqueuer{}
	handler := NewStructureMaintenanceHandler(client, enq)

	if _, _, err := handler.ScheduleCampaigns(context.Background(), "campaign-1"); err != nil {
		t.Fatalf("ScheduleCampaigns: %v", err)
	}
	if enq.count() != 1 {
		t.Fatalf("expected only ConstructionComplete while not operational, got %d events", enq.count())
	}
}

func TestStructureMaintenance_CampaignListFailureReturnsError(t *testing.T) {
	client := &fakeStructuresClient{campaignErr: errors.New("down")}
	handler := NewStructureMaintenanceHandler(client, &fakeEnqueuer{})

	_, _, err := handler.ScheduleCampaigns(context.Background(), job.SystemCampaign)
	if err == nil {
		t.Fatal("expected error when campaign listing fails")
	}
}

func TestStructureMaintenance_ApplyMaintenanceHandlerConstructionComplete(t *testing.T) {
	client := &fakeStructuresClient{}
	handler := NewStructureMaintenanceHandler(client, &fakeEnqueuer{})

	payload := job.StructureMaintenancePayload{StructureID: "structure-1", MaintenanceType: job.StructureConstructionComplete}
	j, err := job.New(job.KindStructureMaintenance, "campaign-1", payload)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}

	outcome := handler.ApplyMaintenanceHandler()(context.Background(), j)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %+v (err=%v)", outcome, outcome.Err())
	}
	if len(client.updateCalls) != 1 {
		t.Fatalf("expected UpdateStructure called once, got %d", len(client.updateCalls))
	}
}

func TestStructureMaintenance_ApplyMaintenanceHandlerUpdateErrorRetries(t *testing.T) {
	client := &fakeStructuresClient{updateErr: errors.New("rejected")}
	handler := NewStructureMaintenanceHandler(client, &fakeEnqueuer{})

	payload := job.StructureMaintenancePayload{StructureID: "structure-1", MaintenanceType: job.StructureUpgradeAvailable}
	j, err := job.New(job.KindStructureMaintenance, "campaign-1", payload)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}

	outcome := handler.ApplyMaintenanceHandler()(context.Background(), j)
	if !outcome.IsRetry() {
		t.Fatalf("expected retry outcome, got %+v", outcome)
	}
}
