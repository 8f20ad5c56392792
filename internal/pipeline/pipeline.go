// Package pipeline sequences the detection stages for one target per run:
// Collected -> Aggregated -> TrendsComputed -> SignalsComputed -> Scored ->
// Structured -> Persisted -> Notified. Stage failures stop downstream
// stages but keep whatever upstream work already committed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pulsewatch/signals-bot/internal/aggregate"
	"github.com/pulsewatch/signals-bot/internal/categorizer"
	"github.com/pulsewatch/signals-bot/internal/clustering"
	"github.com/pulsewatch/signals-bot/internal/config"
	"github.com/pulsewatch/signals-bot/internal/generator"
	"github.com/pulsewatch/signals-bot/internal/models"
	"github.com/pulsewatch/signals-bot/internal/notifications"
	"github.com/pulsewatch/signals-bot/internal/opportunity"
	"github.com/pulsewatch/signals-bot/internal/schedule"
	"github.com/pulsewatch/signals-bot/internal/storage"
	"github.com/pulsewatch/signals-bot/internal/trends"
)

// Service orchestrates pipeline runs. Runs for different targets may
// execute concurrently; runs for the same target serialize on a
// per-target lock so dedup-key writes never race.
type Service struct {
	config   *config.Config
	store    storage.Store
	archiver storage.Archiver
	feed     categorizer.Feed
	briefs   generator.Source
	notifier notifications.Notifier
	detector *clustering.Detector

	targets map[string]models.Target

	locks   sync.Map // target id -> *sync.Mutex
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics holds pipeline counters exposed at /metrics.
type Metrics struct {
	Runs                 int            `json:"runs"`
	LastRun              time.Time      `json:"last_run"`
	LastRunDuration      string         `json:"last_run_duration"`
	SignalsCreated       int            `json:"signals_created"`
	OpportunitiesCreated int            `json:"opportunities_created"`
	StageFailures        map[string]int `json:"stage_failures"`
	ErrorCount           int            `json:"error_count"`
}

// NewService creates a pipeline service over the given collaborators.
func NewService(cfg *config.Config, store storage.Store, archiver storage.Archiver,
	feed categorizer.Feed, briefs generator.Source, notifier notifications.Notifier,
	targets []models.Target) *Service {

	byID := make(map[string]models.Target, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}

	return &Service{
		config:   cfg,
		store:    store,
		archiver: archiver,
		feed:     feed,
		briefs:   briefs,
		notifier: notifier,
		detector: clustering.NewDetector(cfg.MinClusterSize, cfg.DominanceCutoff),
		targets:  byID,
		metrics: &Metrics{
			StageFailures: make(map[string]int),
		},
	}
}

// Targets returns the monitored roster.
func (s *Service) Targets() []models.Target {
	out := make([]models.Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	return out
}

// Run executes the full pipeline for one target and window. It never
// returns an error for insufficient data; skips and failures are both
// reported through the summary.
func (s *Service) Run(ctx context.Context, targetID string, windowDays int) models.RunSummary {
	start := time.Now().UTC()
	summary := models.RunSummary{
		TargetID:   targetID,
		WindowDays: windowDays,
		StartedAt:  start,
	}

	target, ok := s.targets[targetID]
	if !ok {
		summary.FailedStage = models.StageCollected
		summary.Errors = append(summary.Errors, fmt.Sprintf("unknown target %q", targetID))
		summary.FinishedAt = time.Now().UTC()
		return summary
	}

	lock := s.targetLock(targetID)
	lock.Lock()
	defer lock.Unlock()

	logrus.Infof("Starting pipeline run for %s (window %dd)", targetID, windowDays)
	s.runStages(ctx, target, windowDays, &summary)
	summary.FinishedAt = time.Now().UTC()

	s.recordRun(&summary, time.Since(start))
	logrus.Infof("Pipeline run for %s reached %s in %v", targetID, summary.StageReached, time.Since(start))
	return summary
}

func (s *Service) runStages(ctx context.Context, target models.Target, windowDays int, summary *models.RunSummary) {
	now := time.Now().UTC()

	// Collected: pull classified mentions, archive the raw batch, and
	// persist them. Mentions are immutable, so committing here is safe
	// even if a later stage fails.
	fresh, err := s.feed.FetchClassified(ctx, target, windowDays)
	if err != nil {
		s.fail(summary, models.StageCollected, err)
		return
	}
	if len(fresh) > 0 {
		if err := s.archiver.ArchiveMentions(target.ID, fresh); err != nil {
			// Archival is best effort; note it and move on.
			logrus.Warnf("Failed to archive mentions for %s: %v", target.ID, err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("archive: %v", err))
		}
		if _, err := s.store.SaveMentions(fresh); err != nil {
			s.fail(summary, models.StageCollected, err)
			return
		}
	}
	summary.StageReached = models.StageCollected

	if aborted(ctx, summary) {
		return
	}

	// Aggregated: windowed view over everything the store holds for the
	// target, fresh and historical alike.
	since := now.AddDate(0, 0, -windowDays)
	windowed, err := s.store.MentionsSince(target.ID, since)
	if err != nil {
		s.fail(summary, models.StageAggregated, err)
		return
	}
	buckets := aggregate.BucketByISOWeek(windowed)
	summary.StageReached = models.StageAggregated
	logrus.Debugf("Aggregated %d mentions into %d weekly buckets for %s", len(windowed), len(buckets), target.ID)

	if aborted(ctx, summary) {
		return
	}

	// TrendsComputed: pure detection, no persistence.
	trendList := trends.Detect(target, windowed, now)
	if len(trendList) == 0 {
		summary.Skipped = append(summary.Skipped, "trends: no qualifying movement")
	}
	summary.StageReached = models.StageTrendsComputed

	if aborted(ctx, summary) {
		return
	}

	// SignalsComputed: clustering detection. A nil signal is a skip.
	signal := s.detector.Detect(target, windowed, windowDays, now)
	if signal == nil {
		summary.Skipped = append(summary.Skipped, "clustering: insufficient data or no dominant category")
	}
	summary.StageReached = models.StageSignalsComputed

	if aborted(ctx, summary) {
		return
	}

	// Scored: ask the brief generator for candidates when something
	// qualifies. No qualifying input means nothing to score.
	var batch opportunity.Batch
	generate := (signal != nil && signal.ShouldPredict) || len(trendList) > 0
	if generate && s.briefs.IsEnabled() {
		raw, err := s.fetchCandidates(ctx, target, signal, trendList)
		if err != nil {
			s.fail(summary, models.StageScored, err)
			s.persistSignal(signal, now, summary) // upstream result still commits
			return
		}
		summary.StageReached = models.StageScored

		if aborted(ctx, summary) {
			s.persistSignal(signal, now, summary)
			return
		}

		// Structured: parse, score, and shape-validate the candidates.
		batch = opportunity.BuildBatch(target, raw, s.config.ExternalMinRatio, now)
		for _, rejected := range batch.Rejected {
			summary.Errors = append(summary.Errors, fmt.Sprintf("candidate rejected: %v", rejected))
		}
		if !batch.ExternalRatioOK {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("batch flagged: only %.0f%% of content angles reference external events", batch.ExternalRatio*100))
		}
		summary.StageReached = models.StageStructured
	} else {
		if generate {
			summary.Skipped = append(summary.Skipped, "scoring: generator not configured")
		} else {
			summary.Skipped = append(summary.Skipped, "scoring: no qualifying signals or trends")
		}
		summary.StageReached = models.StageStructured
	}

	if aborted(ctx, summary) {
		s.persistSignal(signal, now, summary)
		return
	}

	// Persisted: commit signal, prediction, and opportunities. Dedup
	// conflicts fail the individual item, not the run.
	s.persistSignal(signal, now, summary)

	var newOpportunities []models.Opportunity
	for i := range batch.Opportunities {
		opp := &batch.Opportunities[i]
		created, err := s.store.UpsertOpportunity(opp)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("persist opportunity %q: %v", opp.Title, err))
			if errors.Is(err, storage.ErrConflict) {
				summary.FailedStage = models.StagePersisted
			}
			continue
		}
		if created {
			summary.OpportunitiesCreated++
		}
		newOpportunities = append(newOpportunities, *opp)
	}
	if summary.FailedStage == models.StagePersisted {
		return
	}
	summary.StageReached = models.StagePersisted

	if aborted(ctx, summary) {
		return
	}

	// Notified: deliver the digest. Persisted results stand regardless.
	digest := &notifications.Digest{
		TargetName:    target.Name,
		Summary:       *summary,
		Opportunities: newOpportunities,
	}
	if signal != nil && signal.ShouldPredict {
		if p, err := s.store.PredictionBySignal(signal.ID); err == nil && p != nil {
			digest.Predictions = append(digest.Predictions, *p)
		}
	}
	if err := s.notifier.SendDigest(digest); err != nil {
		s.fail(summary, models.StageNotified, err)
		return
	}
	summary.StageReached = models.StageNotified
}

// persistSignal commits a detection and its derived prediction. On
// re-detection within the same ISO week the store preserves the signal
// id, so the existing prediction is rescheduled instead of duplicated.
func (s *Service) persistSignal(signal *models.PredictionSignal, now time.Time, summary *models.RunSummary) {
	if signal == nil {
		return
	}

	created, err := s.store.UpsertPredictionSignal(signal)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("persist signal: %v", err))
		summary.FailedStage = models.StagePersisted
		return
	}
	if created {
		summary.SignalsCreated++
	}

	if !signal.ShouldPredict {
		return
	}

	existing, err := s.store.PredictionBySignal(signal.ID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("load prediction: %v", err))
		summary.FailedStage = models.StagePersisted
		return
	}

	if existing != nil {
		next := schedule.NextCheck(now, existing.TimeHorizon)
		if err := s.store.UpdatePredictionCheck(existing.ID, next, signal.ConfidenceScore, existing.Status); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("reschedule prediction: %v", err))
			summary.FailedStage = models.StagePersisted
		}
		return
	}

	prediction := clustering.DerivePrediction(signal)
	schedule.Reschedule(&prediction, now)
	if err := s.store.SavePrediction(&prediction); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("persist prediction: %v", err))
		summary.FailedStage = models.StagePersisted
	}
}

// fetchCandidates builds the generator request with organizational
// context from the roster.
func (s *Service) fetchCandidates(ctx context.Context, target models.Target, signal *models.PredictionSignal, trendList []models.Trend) ([]byte, error) {
	req := generator.Request{
		Target: target,
		Trends: trendList,
	}
	if signal != nil {
		req.Signals = append(req.Signals, *signal)
	}
	for _, t := range s.targets {
		if t.Type == models.TargetCompetitor && t.ID != target.ID {
			req.Competitors = append(req.Competitors, t.Name)
		}
		if t.Type == models.TargetSelf {
			req.Strengths = append(req.Strengths, t.Strengths...)
		}
	}
	return s.briefs.GenerateCandidates(ctx, req)
}

// RunAll runs the pipeline for every target. Targets run concurrently;
// the per-target lock keeps same-target runs serialized.
func (s *Service) RunAll(ctx context.Context, windowDays int) []models.RunSummary {
	summaries := make([]models.RunSummary, len(s.Targets()))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, target := range s.Targets() {
		i, target := i, target
		g.Go(func() error {
			summaries[i] = s.Run(ctx, target.ID, windowDays)
			return nil
		})
	}
	_ = g.Wait()

	return summaries
}

// RecheckDue re-evaluates predictions whose next check has come due:
// clustering is recomputed over fresh mentions, confidence is updated,
// and the prediction is rescheduled. Predictions whose signal no longer
// qualifies resolve.
func (s *Service) RecheckDue(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.store.DuePredictions(now)
	if err != nil {
		return fmt.Errorf("load due predictions: %w", err)
	}
	if len(due) == 0 {
		logrus.Debug("No predictions due for re-check")
		return nil
	}

	logrus.Infof("Re-checking %d due predictions", len(due))
	for _, p := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		target, ok := s.targets[p.TargetID]
		if !ok {
			logrus.Warnf("Prediction %s references unknown target %s, expiring", p.ID, p.TargetID)
			if err := s.store.UpdatePredictionCheck(p.ID, schedule.NextCheck(now, p.TimeHorizon), p.ConfidenceScore, models.StatusExpired); err != nil {
				return err
			}
			continue
		}

		lock := s.targetLock(target.ID)
		lock.Lock()
		err := s.recheckOne(target, p, now)
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recheckOne(target models.Target, p models.Prediction, now time.Time) error {
	since := now.AddDate(0, 0, -s.config.WindowDays)
	windowed, err := s.store.MentionsSince(target.ID, since)
	if err != nil {
		return err
	}

	next := schedule.NextCheck(now, p.TimeHorizon)
	signal := s.detector.Detect(target, windowed, s.config.WindowDays, now)
	if signal == nil {
		logrus.Infof("Prediction %s no longer supported by clustering, resolving", p.ID)
		return s.store.UpdatePredictionCheck(p.ID, next, p.ConfidenceScore, models.StatusResolved)
	}

	return s.store.UpdatePredictionCheck(p.ID, next, signal.ConfidenceScore, models.StatusActive)
}

func (s *Service) targetLock(targetID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(targetID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Service) fail(summary *models.RunSummary, stage models.RunStage, err error) {
	logrus.Errorf("Stage %s failed for %s: %v", stage, summary.TargetID, err)
	summary.FailedStage = stage
	summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", stage, err))
}

func aborted(ctx context.Context, summary *models.RunSummary) bool {
	if ctx.Err() != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("run aborted: %v", ctx.Err()))
		return true
	}
	return false
}

func (s *Service) recordRun(summary *models.RunSummary, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Runs++
	s.metrics.LastRun = time.Now().UTC()
	s.metrics.LastRunDuration = duration.String()
	s.metrics.SignalsCreated += summary.SignalsCreated
	s.metrics.OpportunitiesCreated += summary.OpportunitiesCreated
	s.metrics.ErrorCount += len(summary.Errors)
	if summary.Failed() {
		s.metrics.StageFailures[string(summary.FailedStage)]++
	}
}

// GetMetrics returns current metrics as JSON.
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
