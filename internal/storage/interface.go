package storage

import (
	"errors"
	"time"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// ErrConflict is returned when a write to a dedup key keeps losing to
// concurrent writers after bounded retries.
var ErrConflict = errors.New("storage: persistent conflict on dedup key")

// Store defines the persistence contract for the pipeline. It is the
// single source of truth for cross-run state: dedup keys, prediction
// schedules, and opportunity merge history.
type Store interface {
	// SaveMentions inserts mentions, ignoring duplicates by id.
	// Returns the count of newly inserted rows.
	SaveMentions(mentions []models.Mention) (int, error)

	// MentionsSince returns a target's mentions with effective timestamp
	// at or after since, oldest first.
	MentionsSince(targetID string, since time.Time) ([]models.Mention, error)

	// UpsertPredictionSignal deduplicates on (target_id, signal_type,
	// time_window_days, ISO week of detection). An existing row is
	// updated in place, preserving its id; created reports whether a new
	// row was inserted.
	UpsertPredictionSignal(signal *models.PredictionSignal) (created bool, err error)

	// SavePrediction stores a new prediction projection.
	SavePrediction(p *models.Prediction) error

	// PredictionBySignal returns the prediction derived from a signal,
	// or nil when none exists.
	PredictionBySignal(signalID string) (*models.Prediction, error)

	// UpdatePredictionCheck mutates a prediction's re-check schedule,
	// confidence, and status after an evaluation.
	UpdatePredictionCheck(id string, nextCheckAt time.Time, confidence int, status models.SignalStatus) error

	// DuePredictions returns active predictions whose next_check_at is
	// at or before now.
	DuePredictions(now time.Time) ([]models.Prediction, error)

	// UpsertOpportunity deduplicates on (target_id, normalized title).
	// On a hit, incoming fields merge into the existing row and the
	// existing id and created_at are preserved; the caller's record is
	// updated to reflect the stored row.
	UpsertOpportunity(o *models.Opportunity) (created bool, err error)

	// GetOpportunity looks up an opportunity by target and title
	// (normalized). Returns nil when absent.
	GetOpportunity(targetID, title string) (*models.Opportunity, error)

	Close() error
}
