// Package syncer is the reconciliation engine: it fetches source events,
// diffs them against recorded sync state, dispatches create/update/delete
// actions to the destination with bounded concurrency, and removes
// destination events whose source counterpart disappeared.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/seino/sync-garoon-calendar/internal/destination"
	"github.com/seino/sync-garoon-calendar/internal/models"
	"github.com/seino/sync-garoon-calendar/internal/notify"
	"github.com/seino/sync-garoon-calendar/internal/state"
)

// SourceClient fetches source events for a set of scopes over a date range.
type SourceClient interface {
	FetchEvents(ctx context.Context, scopes []models.Scope, startDate, endDate string) ([]models.SourceEvent, error)
}

// Options configure a Syncer.
type Options struct {
	Logger          *slog.Logger
	Source          SourceClient
	Destination     destination.Provider
	Store           *state.Store
	Notifier        notify.Notifier
	Scopes          []models.Scope
	DefaultTimezone string
	BatchSize       int
	IncludePrivate  bool
	ExcludeMarkers  []string
	DryRun          bool
}

// Syncer orchestrates one-way reconciliation from the source scheduling
// service into the destination calendar.
type Syncer struct {
	logger         *slog.Logger
	source         SourceClient
	dest           destination.Provider
	store          *state.Store
	notifier       notify.Notifier
	scopes         []models.Scope
	defaultTZ      string
	batchSize      int
	includePrivate bool
	excludeMarkers []string
	dryRun         bool
}

// New creates a Syncer. A nil Notifier disables notifications.
func New(opts Options) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Disabled()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	tz := opts.DefaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	return &Syncer{
		logger:         logger,
		source:         opts.Source,
		dest:           opts.Destination,
		store:          opts.Store,
		notifier:       notifier,
		scopes:         opts.Scopes,
		defaultTZ:      tz,
		batchSize:      batchSize,
		includePrivate: opts.IncludePrivate,
		excludeMarkers: opts.ExcludeMarkers,
		dryRun:         opts.DryRun,
	}
}

// runState accumulates counters across the batched goroutines.
type runState struct {
	mu    sync.Mutex
	stats models.SyncStats
}

func (r *runState) add(f func(*models.SyncStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.stats)
}

// Run performs one full reconciliation pass and returns the per-run
// counters. Per-event failures are counted and logged but never abort the
// run; a returned error means the run itself aborted (source fetch or state
// store failure), in which case the error has already been reported to the
// notifier.
func (s *Syncer) Run(ctx context.Context, startDate, endDate string) (models.SyncStats, error) {
	s.logger.Info("Starting sync run.", "start", startDate, "end", endDate, "dryRun", s.dryRun)

	events, err := s.source.FetchEvents(ctx, s.scopes, startDate, endDate)
	if err != nil {
		return models.SyncStats{}, s.abort(ctx, fmt.Errorf("failed to fetch source events: %w", err))
	}

	kept := s.filter(events)
	s.logger.Info("Classified fetchable events.", "fetched", len(events), "kept", len(kept))

	run := &runState{}
	for i := 0; i < len(kept); i += s.batchSize {
		end := min(i+s.batchSize, len(kept))
		batch := kept[i:end]

		var wg sync.WaitGroup
		for _, ev := range batch {
			wg.Add(1)
			go func(ev models.SourceEvent) {
				defer wg.Done()
				s.syncEvent(ctx, ev, run)
			}(ev)
		}
		wg.Wait()
	}

	if err := s.deleteOrphans(ctx, kept, run); err != nil {
		return run.stats, s.abort(ctx, err)
	}

	stats := run.stats
	s.logger.Info("Sync run finished.",
		"added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted, "errors", stats.Errors)

	if err := s.notifier.Summary(ctx, stats); err != nil {
		s.logger.Error("Failed to deliver run summary notification.", "error", err)
	}
	return stats, nil
}

// abort reports a run-aborting error through the notifier before returning
// it to the caller.
func (s *Syncer) abort(ctx context.Context, err error) error {
	s.logger.Error("Sync run aborted.", "error", err)
	if nerr := s.notifier.Error(ctx, "Calendar sync failed", err.Error()); nerr != nil {
		s.logger.Error("Failed to deliver error notification.", "error", nerr)
	}
	return err
}

// filter drops events the caller wants kept private: restricted-visibility
// events (unless configured otherwise) and titles carrying an exclude marker.
func (s *Syncer) filter(events []models.SourceEvent) []models.SourceEvent {
	kept := make([]models.SourceEvent, 0, len(events))
	for _, ev := range events {
		if !s.includePrivate && ev.Visibility == models.VisibilityRestricted {
			s.logger.Debug("Skipping restricted event.", "sourceEventID", ev.ID)
			continue
		}
		if s.hasExcludeMarker(ev.Subject) {
			s.logger.Debug("Skipping excluded event.", "sourceEventID", ev.ID, "subject", ev.Subject)
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

func (s *Syncer) hasExcludeMarker(subject string) bool {
	for _, marker := range s.excludeMarkers {
		if marker != "" && strings.Contains(subject, marker) {
			return true
		}
	}
	return false
}

// syncEvent classifies one source event against the state store and executes
// the resulting action. Failures are isolated to this event.
func (s *Syncer) syncEvent(ctx context.Context, ev models.SourceEvent, run *runState) {
	rec, err := s.store.Get(ctx, ev.ID)
	if err != nil {
		s.recordError(ctx, run, ev.ID, "", fmt.Errorf("state lookup: %w", err))
		return
	}

	switch {
	case rec == nil:
		if err := s.create(ctx, ev, run, ""); err != nil {
			s.recordError(ctx, run, ev.ID, "", err)
		}

	case !rec.SourceUpdatedAt.Equal(ev.UpdatedAt):
		if err := s.update(ctx, ev, rec, run); err != nil {
			s.recordError(ctx, run, ev.ID, rec.DestinationEventID, err)
		}

	default:
		s.logger.Debug("Event unchanged.", "sourceEventID", ev.ID)
		s.appendLog(ctx, state.ActionUnchanged, ev.ID, rec.DestinationEventID, "")
	}
}

// create translates and writes a new destination event, then records the
// mapping. detail annotates the log entry for self-healing recreates.
func (s *Syncer) create(ctx context.Context, ev models.SourceEvent, run *runState, detail string) error {
	dst, err := Translate(ev, s.defaultTZ)
	if err != nil {
		return err
	}

	if s.dryRun {
		s.logger.Info("[dry-run] Would create destination event.", "sourceEventID", ev.ID, "title", dst.Title)
		run.add(func(st *models.SyncStats) { st.Added++ })
		return nil
	}

	destID, err := s.dest.Create(ctx, dst)
	if err != nil {
		return fmt.Errorf("destination create: %w", err)
	}
	if err := s.store.Upsert(ctx, ev.ID, destID, ev.UpdatedAt); err != nil {
		return fmt.Errorf("record create of %s: %w", destID, err)
	}

	s.appendLog(ctx, state.ActionCreate, ev.ID, destID, detail)
	run.add(func(st *models.SyncStats) { st.Added++ })
	s.logger.Info("Created destination event.", "sourceEventID", ev.ID, "destinationEventID", destID)
	return nil
}

// update refreshes an already-synced event. When the recorded destination
// event was deleted out-of-band, the engine self-heals by recreating it and
// rewriting the record with the new destination identity.
func (s *Syncer) update(ctx context.Context, ev models.SourceEvent, rec *state.Record, run *runState) error {
	existing, err := s.dest.Get(ctx, rec.DestinationEventID)
	if err != nil {
		return fmt.Errorf("destination read-back: %w", err)
	}
	if existing == nil {
		s.logger.Warn("Destination event missing, recreating.",
			"sourceEventID", ev.ID, "destinationEventID", rec.DestinationEventID)
		return s.create(ctx, ev, run, "recreated missing destination event")
	}

	dst, err := Translate(ev, s.defaultTZ)
	if err != nil {
		return err
	}

	if s.dryRun {
		s.logger.Info("[dry-run] Would update destination event.",
			"sourceEventID", ev.ID, "destinationEventID", rec.DestinationEventID)
		run.add(func(st *models.SyncStats) { st.Updated++ })
		return nil
	}

	if err := s.dest.Update(ctx, rec.DestinationEventID, dst); err != nil {
		return fmt.Errorf("destination update: %w", err)
	}
	if err := s.store.Upsert(ctx, ev.ID, rec.DestinationEventID, ev.UpdatedAt); err != nil {
		return fmt.Errorf("record update of %s: %w", rec.DestinationEventID, err)
	}

	s.appendLog(ctx, state.ActionUpdate, ev.ID, rec.DestinationEventID, "")
	run.add(func(st *models.SyncStats) { st.Updated++ })
	s.logger.Info("Updated destination event.", "sourceEventID", ev.ID, "destinationEventID", rec.DestinationEventID)
	return nil
}

// deleteOrphans removes destination events whose source counterpart no
// longer appears in the fetched set. It runs strictly after all batches so
// events created in this run are never mistaken for orphans. Structurally
// invalid records (no source key) are pruned without a destination call.
func (s *Syncer) deleteOrphans(ctx context.Context, kept []models.SourceEvent, run *runState) error {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate sync records: %w", err)
	}

	sourceIDs := make(map[string]struct{}, len(kept))
	for _, ev := range kept {
		sourceIDs[ev.ID] = struct{}{}
	}

	for _, rec := range records {
		if rec.SourceEventID == "" {
			s.logger.Warn("Pruning corrupt sync record.", "destinationEventID", rec.DestinationEventID)
			if !s.dryRun {
				if err := s.store.DeleteByDestinationID(ctx, rec.DestinationEventID); err != nil {
					return err
				}
			}
			continue
		}
		if _, present := sourceIDs[rec.SourceEventID]; present {
			continue
		}

		if s.dryRun {
			s.logger.Info("[dry-run] Would delete orphaned destination event.",
				"sourceEventID", rec.SourceEventID, "destinationEventID", rec.DestinationEventID)
			run.add(func(st *models.SyncStats) { st.Deleted++ })
			continue
		}

		// The adapter treats an already-absent destination event as success;
		// the goal state holds either way.
		if err := s.dest.Delete(ctx, rec.DestinationEventID); err != nil {
			s.recordError(ctx, run, rec.SourceEventID, rec.DestinationEventID,
				fmt.Errorf("destination delete: %w", err))
			continue
		}
		if err := s.store.DeleteBySourceID(ctx, rec.SourceEventID); err != nil {
			return err
		}
		s.appendLog(ctx, state.ActionDelete, rec.SourceEventID, rec.DestinationEventID, "")
		run.add(func(st *models.SyncStats) { st.Deleted++ })
		s.logger.Info("Deleted orphaned destination event.",
			"sourceEventID", rec.SourceEventID, "destinationEventID", rec.DestinationEventID)
	}
	return nil
}

func (s *Syncer) recordError(ctx context.Context, run *runState, sourceEventID, destinationEventID string, err error) {
	s.logger.Error("Event sync failed.", "sourceEventID", sourceEventID, "error", err)
	s.appendLog(ctx, state.ActionError, sourceEventID, destinationEventID, err.Error())
	run.add(func(st *models.SyncStats) { st.Errors++ })
}

// appendLog records activity; a failing log write is reported but never
// fails the event it describes.
func (s *Syncer) appendLog(ctx context.Context, action state.Action, sourceEventID, destinationEventID, detail string) {
	if s.dryRun {
		return
	}
	if err := s.store.AppendLog(ctx, action, sourceEventID, destinationEventID, detail); err != nil {
		s.logger.Warn("Failed to append sync log.", "action", string(action), "error", err)
	}
}
