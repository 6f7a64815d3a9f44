package models

import (
	"reflect"

	"github.com/alwitt/ephemera/expiry"
	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	macros := map[string]validator.Func{
		"enc_key_state":     validateEncKeyStateType,
		"system_state":      validateSystemStateType,
		"system_event_type": validateSystemEventType,
		"lifetime_selector": validateLifetimeSelector,
	}
	for tag, fn := range macros {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

func validateEncKeyStateType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch EncryptionKeyStateENUMType(fl.Field().String()) {
	case EncryptionKeyStateActive, EncryptionKeyStateRetired, EncryptionKeyStateInactive:
		return true
	}
	return false
}

func validateSystemStateType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch SystemStateENUMType(fl.Field().String()) {
	case SystemStatePreInit, SystemStateInit, SystemStateRunning:
		return true
	}
	return false
}

func validateSystemEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch SystemEventTypeENUMType(fl.Field().String()) {
	case SystemEventTypeInitializing,
		SystemEventTypeInitialized,
		SystemEventTypeNewEncryptionKey,
		SystemEventTypeActivateEncryptionKey,
		SystemEventTypeRetireEncryptionKey,
		SystemEventTypeDeactivateEncryptionKey,
		SystemEventTypeDeleteEncryptionKey,
		SystemEventTypeSectionCreated,
		SystemEventTypeSectionDeleted,
		SystemEventTypeNotesPurged,
		SystemEventTypeRetentionPurged,
		SystemEventTypeNoteFlagged:
		return true
	}
	return false
}

func validateLifetimeSelector(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return expiry.SelectorENUMType(fl.Field().String()).Valid()
}
