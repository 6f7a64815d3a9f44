package db

import (
	"context"
	"fmt"

	"github.com/alwitt/ephemera/models"
)

// GlobalSystemParamEntryID ID of the singleton system parameter entry
const GlobalSystemParamEntryID = "system-parameters"

// getSystemParamEntry fetch the system param entry, creating it on first use
func (d *databaseImpl) getSystemParamEntry() (SystemParamsDBEntry, error) {
	var entries []SystemParamsDBEntry
	if err := d.db.Where("id = ?", GlobalSystemParamEntryID).Find(&entries).Error; err != nil {
		return SystemParamsDBEntry{}, fmt.Errorf("failed to read system params table [%w]", err)
	}
	if len(entries) > 0 {
		return entries[0], nil
	}

	newEntry := SystemParamsDBEntry{
		SystemParams: models.SystemParams{
			ID:    GlobalSystemParamEntryID,
			State: models.SystemStatePreInit,
		},
	}
	if err := d.validator.Struct(&newEntry); err != nil {
		return SystemParamsDBEntry{}, fmt.Errorf("system params entry is invalid [%w]", err)
	}
	if err := d.db.Create(&newEntry).Error; err != nil {
		return SystemParamsDBEntry{}, fmt.Errorf(
			"failed to setup singleton system params table [%w]", err,
		)
	}
	return newEntry, nil
}

/*
GetSystemParamEntry fetch the global singleton system parameter entry

	@param ctx context.Context - execution context
	@returns the entry
*/
func (d *databaseImpl) GetSystemParamEntry(_ context.Context) (models.SystemParams, error) {
	entry, err := d.getSystemParamEntry()
	if err != nil {
		return entry.SystemParams, fmt.Errorf("unable to fetch system parameter entry [%w]", err)
	}
	return entry.SystemParams, nil
}

// updateSystemParamState move the bootstrap state forward and audit the move
func (d *databaseImpl) updateSystemParamState(newState models.SystemStateENUMType) error {
	entry, err := d.getSystemParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch system parameter entry [%w]", err)
	}

	if entry.State == newState {
		return nil
	}

	if err := entry.ValidateNextState(newState); err != nil {
		return fmt.Errorf("system state change to %s not allowed [%w]", newState, err)
	}

	entry.State = newState
	if err := d.db.Model(&entry).Update("state", newState).Error; err != nil {
		return fmt.Errorf("system state change update failed [%w]", err)
	}

	eventType := models.SystemEventTypeInitializing
	if newState == models.SystemStateRunning {
		eventType = models.SystemEventTypeInitialized
	}
	if _, err := d.defineNewSystemEvent(eventType, nil); err != nil {
		return fmt.Errorf("failed to log system state change audit event [%w]", err)
	}

	return nil
}

// MarkSystemInitializing mark system is initializing
func (d *databaseImpl) MarkSystemInitializing(_ context.Context) error {
	return d.updateSystemParamState(models.SystemStateInit)
}

// MarkSystemInitialized mark system fully initialized
func (d *databaseImpl) MarkSystemInitialized(_ context.Context) error {
	return d.updateSystemParamState(models.SystemStateRunning)
}
