package models

import (
	"time"
)

// ControlMode determines how a headcount record is reconciled over time.
type ControlMode string

const (
	ControlModeDaily   ControlMode = "diario"
	ControlModeAccrual ControlMode = "periodo_apuracao"
)

// HeadcountRecord is one row of the quadro de lotação: planned, actual and
// reserved position counts for a (staffing plan, job slot, job code) triple.
// It is mutated only by the normalizer, always inside one ledger transaction
// per event, and is deactivated rather than deleted.
type HeadcountRecord struct {
	ID               string      `json:"id"`
	StaffingPlanID   string      `json:"quadro_id"`
	CompanyID        string      `json:"empresa_id"`
	CostCenterID     string      `json:"centro_custo_id"`
	JobCodeID        string      `json:"cargo_id"`
	PlannedCount     int         `json:"planned_count"`
	ActualCount      int         `json:"actual_count"`
	ReservedCount    int         `json:"reserved_count"`
	ControlStartDate time.Time   `json:"control_start_date"`
	ControlMode      ControlMode `json:"control_mode"`
	Active           bool        `json:"active"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Availability is planned minus actual minus reserved. A negative value is a
// deficit: a valid, reportable state, not an error.
func (r *HeadcountRecord) Availability() int {
	return r.PlannedCount - r.ActualCount - r.ReservedCount
}
