package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pulsewatch/signals-bot/internal/config"
	"github.com/pulsewatch/signals-bot/internal/pipeline"
)

// Service drives periodic pipeline runs and prediction re-checks.
type Service struct {
	config          *config.Config
	pipelineService *pipeline.Service
	cron            *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, pipelineService *pipeline.Service) *Service {
	return &Service{
		config:          cfg,
		pipelineService: pipelineService,
		cron:            cron.New(cron.WithSeconds()),
	}
}

// Start begins the scheduled runs.
func (s *Service) Start() error {
	var cronExpression string

	switch s.config.RunSchedule {
	case "daily":
		// Run daily at 6 AM UTC
		cronExpression = "0 0 6 * * *"
	case "weekly":
		// Run weekly on Monday at 6 AM UTC
		cronExpression = "0 0 6 * * MON"
	default:
		cronExpression = "0 0 6 * * *"
	}

	_, err := s.cron.AddFunc(cronExpression, func() {
		logrus.Info("Starting scheduled pipeline run for all targets")
		summaries := s.pipelineService.RunAll(context.Background(), s.config.WindowDays)
		for _, summary := range summaries {
			if summary.Failed() {
				logrus.Errorf("Pipeline run for %s failed at %s: %v", summary.TargetID, summary.FailedStage, summary.Errors)
			}
		}
	})
	if err != nil {
		return err
	}

	// Re-check due predictions every 6 hours; the check scheduler decides
	// which predictions are actually due.
	_, err = s.cron.AddFunc("0 0 */6 * * *", func() {
		logrus.Info("Starting prediction re-check sweep")
		if err := s.pipelineService.RecheckDue(context.Background()); err != nil {
			logrus.Errorf("Prediction re-check sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %s schedule (plus prediction re-checks every 6 hours)", s.config.RunSchedule)
	return nil
}

// Stop stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}
