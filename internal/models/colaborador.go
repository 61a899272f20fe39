package models

import (
	"time"
)

// EventType identifies the lifecycle event carried by a webhook delivery.
type EventType string

const (
	EventAdmission   EventType = "colaborador.admitido"
	EventTransfer    EventType = "colaborador.transferido"
	EventTermination EventType = "colaborador.desligado"
	EventPromotion   EventType = "colaborador.promovido"
)

// KnownEventType reports whether t is one of the four lifecycle events.
func KnownEventType(t EventType) bool {
	switch t {
	case EventAdmission, EventTransfer, EventTermination, EventPromotion:
		return true
	}
	return false
}

// ColaboradorEvent is the normalized, transient representation of one
// lifecycle event after payload validation. It is never persisted as such;
// the state that persists is the headcount counters it mutates.
type ColaboradorEvent struct {
	EmployeeID      string    `json:"colaborador_id"`
	Name            string    `json:"nome"`
	NationalID      string    `json:"cpf"`
	JobCodeID       string    `json:"cargo_id"`
	CostCenterID    string    `json:"centro_custo_id"`
	Shift           string    `json:"turno"`
	HireDate        time.Time `json:"data_admissao"`
	TerminationDate time.Time `json:"data_desligamento,omitempty"`
	DisabilityFlag  bool      `json:"pcd"`
	Status          string    `json:"status"`
	EventType       EventType `json:"event_type"`

	// Present on transfers and promotions.
	PreviousCostCenterID string    `json:"centro_custo_anterior,omitempty"`
	PreviousJobCodeID    string    `json:"cargo_anterior,omitempty"`
	EventDate            time.Time `json:"data_evento,omitempty"`
}
