package notifications

import "github.com/pulsewatch/signals-bot/internal/models"

// Digest summarizes what one pipeline run produced for a target.
type Digest struct {
	TargetName    string
	Summary       models.RunSummary
	Predictions   []models.Prediction
	Opportunities []models.Opportunity
}

// Notifier defines the contract for delivering run digests.
type Notifier interface {
	SendDigest(digest *Digest) error
}
