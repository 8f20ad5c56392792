// Package clustering detects category-dominance signals over a target's
// classified mentions and derives user-facing predictions from them.
package clustering

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pulsewatch/signals-bot/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// SignalType identifies clustering detections in the store's dedup key.
	SignalType = "category_clustering"

	// defaultMinCategorized is the minimum classified-mention count before
	// the detector will consider a window at all.
	defaultMinCategorized = 4

	// defaultDominanceCutoff is the exclusive lower bound on the dominant
	// category's share of the window.
	defaultDominanceCutoff = 0.5

	// predictThreshold is the signal strength at which a detection is
	// worth surfacing as a prediction.
	predictThreshold = 70
)

// crisisCategories map to crisis_building predictions; every other
// dominant category reads as a market shift.
var crisisCategories = map[string]bool{
	"crisis":     true,
	"legal":      true,
	"regulatory": true,
}

// Detector runs category-dominance detection with tunable thresholds.
type Detector struct {
	minCategorized  int
	dominanceCutoff float64
}

// NewDetector creates a detector. Out-of-range thresholds fall back to
// the defaults.
func NewDetector(minCategorized int, dominanceCutoff float64) *Detector {
	if minCategorized <= 0 {
		minCategorized = defaultMinCategorized
	}
	if dominanceCutoff <= 0 || dominanceCutoff >= 1 {
		dominanceCutoff = defaultDominanceCutoff
	}
	return &Detector{minCategorized: minCategorized, dominanceCutoff: dominanceCutoff}
}

// Detect analyzes the windowed mentions for one target with the default
// thresholds.
func Detect(target models.Target, mentions []models.Mention, windowDays int, now time.Time) *models.PredictionSignal {
	return NewDetector(0, 0).Detect(target, mentions, windowDays, now)
}

// Detect analyzes the windowed mentions for one target. A nil result
// means the window did not qualify (too few categorized mentions or no
// dominant category); that is a skip, not an error.
func (d *Detector) Detect(target models.Target, mentions []models.Mention, windowDays int, now time.Time) *models.PredictionSignal {
	var categorized []models.Mention
	for _, m := range mentions {
		if m.Category != "" {
			categorized = append(categorized, m)
		}
	}

	if len(categorized) < d.minCategorized {
		logrus.Debugf("Clustering skipped for %s: %d categorized mentions (<%d)", target.ID, len(categorized), d.minCategorized)
		return nil
	}

	distribution := make(map[string]int)
	for _, m := range categorized {
		distribution[m.Category]++
	}

	dominant, dominantCount := dominantCategory(distribution)
	ratio := float64(dominantCount) / float64(len(categorized))
	if ratio <= d.dominanceCutoff {
		logrus.Debugf("Clustering skipped for %s: dominance ratio %.2f at or below %.2f", target.ID, ratio, d.dominanceCutoff)
		return nil
	}

	strength := int(math.Round(ratio*100)) + dominantCount*10
	if strength > 100 {
		strength = 100
	}

	predictionType := models.PredictionMarketShift
	recommendation := fmt.Sprintf("Activity around %s is concentrating in %s coverage; watch for a market shift.", target.Name, dominant)
	if crisisCategories[dominant] {
		predictionType = models.PredictionCrisisBuilding
		recommendation = fmt.Sprintf("Rising %s coverage suggests a crisis may be building around %s; prepare a response.", dominant, target.Name)
	}

	ids := make([]string, 0, len(categorized))
	first, latest := categorized[0].EffectiveTime(), categorized[0].EffectiveTime()
	for _, m := range categorized {
		ids = append(ids, m.ID)
		if ts := m.EffectiveTime(); ts.Before(first) {
			first = ts
		} else if ts.After(latest) {
			latest = ts
		}
	}

	signal := &models.PredictionSignal{
		ID:                   uuid.NewString(),
		TargetID:             target.ID,
		TargetName:           target.Name,
		TargetType:           target.Type,
		SignalType:           SignalType,
		SignalStrength:       strength,
		ConfidenceScore:      strength,
		PatternDescription:   fmt.Sprintf("%s showing %d %s events (%d%% of recent activity)", target.Name, dominantCount, dominant, int(math.Round(ratio*100))),
		TimeWindowDays:       windowDays,
		SupportingArticleIDs: ids,
		ArticleCount:         len(categorized),
		FirstMention:         first,
		LatestMention:        latest,
		CategoryDistribution: distribution,
		PrimaryCategory:      dominant,
		ShouldPredict:        strength >= predictThreshold,
		PredictionType:       predictionType,
		Recommendation:       recommendation,
		Status:               models.StatusActive,
		DetectedAt:           now,
	}

	logrus.Infof("Clustering signal for %s: %s dominant (%d/%d), strength %d", target.ID, dominant, dominantCount, len(categorized), strength)
	return signal
}

// DerivePrediction projects a signal into its user-facing prediction.
// The time horizon is fixed at 1-month for clustering signals regardless
// of strength or category; known simplification, kept until product says
// otherwise.
func DerivePrediction(signal *models.PredictionSignal) models.Prediction {
	impact := models.ImpactLow
	switch {
	case signal.SignalStrength >= 80:
		impact = models.ImpactHigh
	case signal.SignalStrength >= 60:
		impact = models.ImpactMedium
	}

	category := models.CategoryMarket
	title := fmt.Sprintf("Market shift forming around %s", signal.TargetName)
	if signal.PredictionType == models.PredictionCrisisBuilding {
		category = models.CategoryRisk
		title = fmt.Sprintf("Potential crisis building around %s", signal.TargetName)
	}

	return models.Prediction{
		ID:              uuid.NewString(),
		SignalID:        signal.ID,
		TargetID:        signal.TargetID,
		Title:           title,
		Description:     signal.PatternDescription,
		ConfidenceScore: signal.ConfidenceScore,
		ImpactLevel:     impact,
		Category:        category,
		TimeHorizon:     models.HorizonOneMonth,
		Status:          models.StatusActive,
	}
}

// dominantCategory returns the most frequent category; ties break
// lexicographically so results are stable across runs.
func dominantCategory(distribution map[string]int) (string, int) {
	categories := make([]string, 0, len(distribution))
	for c := range distribution {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	best, bestCount := "", 0
	for _, c := range categories {
		if distribution[c] > bestCount {
			best, bestCount = c, distribution[c]
		}
	}
	return best, bestCount
}
