package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// Archiver snapshots raw mention batches for audit. Archival is best
// effort; the pipeline treats failures as non-fatal.
type Archiver interface {
	ArchiveMentions(targetID string, mentions []models.Mention) error
}

// NoopArchiver is used when no archive backend is configured.
type NoopArchiver struct{}

var _ Archiver = (*NoopArchiver)(nil)

func (NoopArchiver) ArchiveMentions(string, []models.Mention) error { return nil }

// archiveBlobName names a snapshot by target and capture time.
func archiveBlobName(targetID string, now time.Time) string {
	return fmt.Sprintf("mentions/%s/%s.json", targetID, now.Format("2006-01-02-15-04-05"))
}

func marshalMentions(mentions []models.Mention) ([]byte, error) {
	data, err := json.Marshal(mentions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mentions: %w", err)
	}
	return data, nil
}
