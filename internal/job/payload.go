package job

import (
	"encoding/json"
	"fmt"
	"time"

	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
)

// DeferredEffectPayload is the payload for KindDeferredEffect.
type DeferredEffectPayload struct {
	EffectID   string    `json:"effectId"`
	ExecuteAt  time.Time `json:"executeAt"`
}

// SettlementEventType enumerates the growth events a settlement can emit.
type SettlementEventType string

const (
	SettlementPopulationGrowth  SettlementEventType = "PopulationGrowth"
	SettlementResourceGeneration SettlementEventType = "ResourceGeneration"
	SettlementLevelUpCheck       SettlementEventType = "LevelUpCheck"
)

// SettlementGrowthPayload is the payload for KindSettlementGrowth.
type SettlementGrowthPayload struct {
	SettlementID string                 `json:"settlementId"`
	EventType    SettlementEventType    `json:"eventType"`
	Parameters   map[string]interface{} `json:"parameters"`
}

// StructureMaintenanceType enumerates the maintenance events a structure
// can emit.
type StructureMaintenanceType string

const (
	StructureConstructionComplete StructureMaintenanceType = "ConstructionComplete"
	StructureMaintenanceDue       StructureMaintenanceType = "MaintenanceDue"
	StructureUpgradeAvailable     StructureMaintenanceType = "UpgradeAvailable"
)

// StructureMaintenancePayload is the payload for KindStructureMaintenance.
type StructureMaintenancePayload struct {
	StructureID     string                   `json:"structureId"`
	MaintenanceType StructureMaintenanceType `json:"maintenanceType"`
	Parameters      map[string]interface{}   `json:"parameters"`
}

// EmptyPayload is the payload for KindEventExpiration,
// KindRecalculateSettlementSchedules, and KindRecalculateStructureSchedules
// — all three carry no data beyond the job's CampaignID.
type EmptyPayload struct{}

// ErrUnknownKind is returned by DecodePayload when the job's Kind has no
// known payload shape. An unknown kind is a terminal dispatcher failure,
// never a retry.
var ErrUnknownKind = scheduleerrors.ErrUnknownKind

// DecodePayload unmarshals raw into the payload type appropriate for kind.
// A malformed payload or unrecognized kind is the caller's signal to treat
// the job as a terminal (non-retryable) failure per spec.md §4.1/§4.2.
func DecodePayload(kind Kind, raw json.RawMessage) (interface{}, error) {
	switch kind {
	case KindDeferredEffect:
		var p DeferredEffectPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode DeferredEffect payload: %w", err)
		}
		return p, nil
	case KindSettlementGrowth:
		var p SettlementGrowthPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode SettlementGrowth payload: %w", err)
		}
		if p.EventType != SettlementPopulationGrowth &&
			p.EventType != SettlementResourceGeneration &&
			p.EventType != SettlementLevelUpCheck {
			return nil, fmt.Errorf("decode SettlementGrowth payload: invalid eventType %q", p.EventType)
		}
		return p, nil
	case KindStructureMaintenance:
		var p StructureMaintenancePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode StructureMaintenance payload: %w", err)
		}
		return p, nil
	case KindEventExpiration, KindRecalculateSettlementSchedules, KindRecalculateStructureSchedules:
		return EmptyPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}
