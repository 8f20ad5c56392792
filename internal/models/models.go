package models

import (
	"time"
)

// TargetType classifies a monitored organization.
type TargetType string

const (
	TargetSelf        TargetType = "self"
	TargetCompetitor  TargetType = "competitor"
	TargetStakeholder TargetType = "stakeholder"
)

// Target is an organization being monitored. Created at onboarding and
// read-only to the pipeline. Strengths is only meaningful on the self
// target; it feeds the brief generator as organizational context.
type Target struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Type      TargetType `json:"type" yaml:"type"`
	Industry  string     `json:"industry" yaml:"industry"`
	Keywords  []string   `json:"keywords" yaml:"keywords"`
	Strengths []string   `json:"strengths,omitempty" yaml:"strengths"`
}

// Mention is a single classified reference to a target. The category is
// assigned by the external categorizer before the mention reaches us.
type Mention struct {
	ID          string     `json:"id"`
	TargetID    string     `json:"target_id"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Category    string     `json:"category"`
	Sentiment   string     `json:"sentiment,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
}

// EffectiveTime returns the timestamp used for bucketing and windowing:
// published_at when the source provided one, collected_at otherwise.
// The fallback can skew week buckets when publish dates are missing; we
// keep the observed order rather than guessing.
func (m Mention) EffectiveTime() time.Time {
	if m.PublishedAt != nil && !m.PublishedAt.IsZero() {
		return *m.PublishedAt
	}
	return m.CollectedAt
}

// Trend types emitted by the trend detector.
const (
	TrendVolumeChange   = "volume_change"
	TrendRecurringTopic = "recurring_topic"
)

// Trend is an ephemeral statistical pattern detected over a target's
// recent mentions.
type Trend struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Topic       string         `json:"topic,omitempty"`
	Data        map[string]int `json:"data"`
	TargetID    string         `json:"target_id"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// PredictionSignal is a persisted clustering detection event.
type PredictionSignal struct {
	ID                   string         `json:"id"`
	TargetID             string         `json:"target_id"`
	TargetName           string         `json:"target_name"`
	TargetType           TargetType     `json:"target_type"`
	SignalType           string         `json:"signal_type"`
	SignalStrength       int            `json:"signal_strength"`
	ConfidenceScore      int            `json:"confidence_score"`
	PatternDescription   string         `json:"pattern_description"`
	TimeWindowDays       int            `json:"time_window_days"`
	SupportingArticleIDs []string       `json:"supporting_article_ids"`
	ArticleCount         int            `json:"article_count"`
	FirstMention         time.Time      `json:"first_mention"`
	LatestMention        time.Time      `json:"latest_mention"`
	CategoryDistribution map[string]int `json:"category_distribution"`
	PrimaryCategory      string         `json:"primary_category"`
	ShouldPredict        bool           `json:"should_predict"`
	PredictionType       PredictionType `json:"prediction_type"`
	Recommendation       string         `json:"recommendation"`
	Status               SignalStatus   `json:"status"`
	DetectedAt           time.Time      `json:"detected_at"`
}

// Prediction is the user-facing projection of a PredictionSignal.
type Prediction struct {
	ID              string             `json:"id"`
	SignalID        string             `json:"signal_id"`
	TargetID        string             `json:"target_id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	ConfidenceScore int                `json:"confidence_score"`
	ImpactLevel     ImpactLevel        `json:"impact_level"`
	Category        PredictionCategory `json:"category"`
	TimeHorizon     TimeHorizon        `json:"time_horizon"`
	NextCheckAt     time.Time          `json:"next_check_at"`
	Status          SignalStatus       `json:"status"`
}

// Opportunity is a scored, actionable recommendation. (target_id, title)
// is the dedup key; titles are compared trimmed and case-folded only.
type Opportunity struct {
	ID                   string                `json:"id"`
	TargetID             string                `json:"target_id"`
	Title                string                `json:"title"`
	Description          string                `json:"description"`
	Category             string                `json:"category"`
	Score                int                   `json:"score"`
	Urgency              OpportunityUrgency    `json:"urgency"`
	StakeholderCampaigns []StakeholderCampaign `json:"stakeholder_campaigns"`
	FallbackUsed         bool                  `json:"fallback_used,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// StakeholderCampaign groups content items aimed at one stakeholder
// audience.
type StakeholderCampaign struct {
	Name         string        `json:"name"`
	ContentItems []ContentItem `json:"content_items"`
}

// ContentItem is a single content brief inside a campaign.
type ContentItem struct {
	Angle            string            `json:"angle"`
	KeyPoints        []string          `json:"key_points"`
	Tone             string            `json:"tone"`
	Length           string            `json:"length"`
	CTA              string            `json:"cta"`
	Urgency          ContentUrgency    `json:"urgency"`
	StrategicContext *StrategicContext `json:"strategic_context,omitempty"`
}

// StrategicContext carries free-text framing for a content item. Its
// TimeWindow is the only place a duration description is allowed.
type StrategicContext struct {
	TimeWindow string `json:"time_window,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// RunStage identifies how far a pipeline run progressed.
type RunStage string

const (
	StageCollected       RunStage = "collected"
	StageAggregated      RunStage = "aggregated"
	StageTrendsComputed  RunStage = "trends_computed"
	StageSignalsComputed RunStage = "signals_computed"
	StageScored          RunStage = "scored"
	StageStructured      RunStage = "structured"
	StagePersisted       RunStage = "persisted"
	StageNotified        RunStage = "notified"
)

// RunSummary is returned to the external scheduler after each run.
type RunSummary struct {
	TargetID             string    `json:"target_id"`
	WindowDays           int       `json:"window_days"`
	StageReached         RunStage  `json:"stage_reached"`
	FailedStage          RunStage  `json:"failed_stage,omitempty"`
	Skipped              []string  `json:"skipped,omitempty"`
	SignalsCreated       int       `json:"signals_created"`
	OpportunitiesCreated int       `json:"opportunities_created"`
	Errors               []string  `json:"errors,omitempty"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
}

// Failed reports whether the run stopped at a stage failure.
func (s RunSummary) Failed() bool {
	return s.FailedStage != ""
}
