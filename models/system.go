package models

import (
	"fmt"
	"time"
)

// SystemStateENUMType system operating state ENUM
type SystemStateENUMType string

const (
	// SystemStatePreInit database has never been bootstrapped
	SystemStatePreInit SystemStateENUMType = "PRE_INITIALIZATION"
	// SystemStateInit first data encryption key is being prepared
	SystemStateInit SystemStateENUMType = "INITIALIZING"
	// SystemStateRunning host is serving notes and sections
	SystemStateRunning SystemStateENUMType = "RUNNING"
)

// SystemParams singleton bootstrap parameters of the host
type SystemParams struct {
	// ID param entry ID. It must always be system-parameters
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,oneof=system-parameters"`

	// State system operating state
	State SystemStateENUMType `json:"state" gorm:"column:state;not null" validate:"required,system_state"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextState verify can transition to new state; the bootstrap only moves forward
func (p *SystemParams) ValidateNextState(newState SystemStateENUMType) error {
	order := map[SystemStateENUMType]int{
		SystemStatePreInit: 0,
		SystemStateInit:    1,
		SystemStateRunning: 2,
	}

	current, ok := order[p.State]
	if !ok {
		return fmt.Errorf("system can't transition out of state '%s'", p.State)
	}
	next, ok := order[newState]
	if !ok || next < current || next > current+1 {
		return fmt.Errorf("system can't transition from '%s' to '%s'", p.State, newState)
	}

	return nil
}
