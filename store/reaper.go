package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// SweepReport counts of one housekeeping pass
type SweepReport struct {
	Notes     int64
	Sections  int
	Retention int64
}

// Reaper periodic housekeeping over every store. Nothing depends on it for correctness;
// each read path re-checks expiry on its own.
type Reaper struct {
	goutils.Component

	notes     NoteManager
	sections  SectionManager
	retention RetentionStore
}

/*
NewReaper define new reaper

	@param notes NoteManager - note manager
	@param sections SectionManager - section manager
	@param retention RetentionStore - retention store, optional
	@returns reaper instance
*/
func NewReaper(notes NoteManager, sections SectionManager, retention RetentionStore) *Reaper {
	logTags := log.Fields{"package": "ephemera", "module": "store", "component": "reaper"}
	return &Reaper{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		notes:     notes,
		sections:  sections,
		retention: retention,
	}
}

/*
RunOnce execute every sweep once. Each sweep runs even when an earlier one failed.

	@param ctx context.Context - execution context
	@returns what was removed, and the first sweep error
*/
func (r *Reaper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var err error
	if r.notes != nil {
		report.Notes, err = r.notes.Sweep(ctx)
		record(err)
	}
	if r.sections != nil {
		report.Sections, err = r.sections.Sweep(ctx)
		record(err)
	}
	if r.retention != nil {
		report.Retention, err = r.retention.PurgeExpired(ctx)
		record(err)
	}

	logger := log.WithFields(r.GetLogTagsForContext(ctx)).
		WithField("notes", report.Notes).
		WithField("sections", report.Sections).
		WithField("retention", report.Retention)
	if firstErr != nil {
		logger.WithError(firstErr).Error("Housekeeping pass incomplete")
	} else {
		logger.Debug("Housekeeping pass complete")
	}
	return report, firstErr
}

/*
Run execute housekeeping passes on an interval until the context is cancelled. Pass
failures are logged and do not stop the loop.

	@param ctx context.Context - execution context
	@param interval time.Duration - time between passes
*/
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reaper interval must be positive, got %s", interval)
	}

	_, _ = r.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = r.RunOnce(ctx)
		case <-ctx.Done():
			log.WithFields(r.GetLogTagsForContext(ctx)).Info("Reaper stopped")
			return nil
		}
	}
}
