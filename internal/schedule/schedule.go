// Package schedule maps prediction time horizons to re-check intervals.
package schedule

import (
	"time"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// Re-check cadence per horizon. Nearer horizons are re-evaluated more
// often; unknown horizons fall back to a weekly check.
const (
	defaultInterval = 7 * 24 * time.Hour
)

var intervals = map[models.TimeHorizon]time.Duration{
	models.HorizonOneWeek:     24 * time.Hour,
	models.HorizonOneMonth:    3 * 24 * time.Hour,
	models.HorizonThreeMonths: 7 * 24 * time.Hour,
	models.HorizonSixMonths:   14 * 24 * time.Hour,
	models.HorizonOneYear:     14 * 24 * time.Hour,
}

// NextCheck returns the next evaluation timestamp for a prediction with
// the given horizon. Pure function.
func NextCheck(now time.Time, horizon models.TimeHorizon) time.Time {
	if interval, ok := intervals[horizon]; ok {
		return now.Add(interval)
	}
	return now.Add(defaultInterval)
}

// Reschedule stamps a prediction's next check in place. Called whenever
// a prediction is created or re-evaluated.
func Reschedule(p *models.Prediction, now time.Time) {
	p.NextCheckAt = NextCheck(now, p.TimeHorizon)
}
