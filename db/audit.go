// Package db - persistence layer of notes, sections, archives and encryption keys
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alwitt/ephemera/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
)

// encodeEventMetadata validate then serialize the metadata of an audit event
func (d *databaseImpl) encodeEventMetadata(metadata interface{}) (datatypes.JSON, error) {
	if metadata == nil {
		return nil, nil
	}
	if err := d.validator.Struct(metadata); err != nil {
		return nil, fmt.Errorf("metadata is not valid [%w]", err)
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata serialization failed [%w]", err)
	}
	return datatypes.JSON(raw), nil
}

/*
defineNewSystemEvent record a system event in the current transaction

Metadata carries counts, key IDs and section slugs only; never a note ID.

	@param eventType models.SystemEventTypeENUMType - event type
	@param metadata interface{} - one of the models.SystemEvent*Related structs, or nil
	@returns the recorded event
*/
func (d *databaseImpl) defineNewSystemEvent(
	eventType models.SystemEventTypeENUMType, metadata interface{},
) (models.SystemEventAudit, error) {
	encoded, err := d.encodeEventMetadata(metadata)
	if err != nil {
		return models.SystemEventAudit{}, fmt.Errorf("system event '%s' [%w]", eventType, err)
	}

	event := SystemEventAuditDBEntry{
		SystemEventAudit: models.SystemEventAudit{
			ID: ulid.Make().String(), EventType: eventType, Metadata: encoded,
		},
	}
	if err := d.validator.Struct(&event); err != nil {
		return models.SystemEventAudit{}, fmt.Errorf(
			"system event '%s' entry is not valid [%w]", eventType, err,
		)
	}
	if tmp := d.db.Create(&event); tmp.Error != nil {
		return models.SystemEventAudit{}, fmt.Errorf(
			"system event '%s' insert failed [%w]", eventType, tmp.Error,
		)
	}
	return event.SystemEventAudit, nil
}

/*
ListSystemEvents list captured system events, oldest first

	@param ctx context.Context - execution context
	@param filters SystemEventQueryFilter - entry listing filter
	@return list of system events
*/
func (d *databaseImpl) ListSystemEvents(
	_ context.Context, filters SystemEventQueryFilter,
) ([]models.SystemEventAudit, error) {
	query := d.db.Model(&SystemEventAuditDBEntry{})

	if len(filters.EventTypes) > 0 {
		query = query.Where("type in ?", filters.EventTypes)
	}
	if filters.SectionSlug != nil {
		query = query.Where(datatypes.JSONQuery("metadata").Equals(*filters.SectionSlug, "slug"))
	}
	if filters.EventsAfter != nil {
		query = query.Where("created_at >= ?", *filters.EventsAfter)
	}
	if filters.EventsBefore != nil {
		query = query.Where("created_at <= ?", *filters.EventsBefore)
	}

	var entries []SystemEventAuditDBEntry
	if tmp := applyPaging(query, filters.CommonListEntryQueryFilter).
		Order("created_at").
		Order("id").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list captured system events [%w]", tmp.Error)
	}

	events := make([]models.SystemEventAudit, 0, len(entries))
	for _, entry := range entries {
		events = append(events, entry.SystemEventAudit)
	}
	return events, nil
}
