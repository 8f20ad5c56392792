package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/signals-bot/internal/config"
	"github.com/pulsewatch/signals-bot/internal/generator"
	"github.com/pulsewatch/signals-bot/internal/models"
	"github.com/pulsewatch/signals-bot/internal/notifications"
	"github.com/pulsewatch/signals-bot/internal/opportunity"
	"github.com/pulsewatch/signals-bot/internal/storage"
)

// stubFeed is a canned categorizer feed.
type stubFeed struct {
	mentions []models.Mention
	err      error
}

func (f *stubFeed) FetchClassified(ctx context.Context, target models.Target, windowDays int) ([]models.Mention, error) {
	return f.mentions, f.err
}

func (f *stubFeed) IsEnabled() bool { return true }

// stubGenerator returns a canned candidate payload and records the last
// request it saw.
type stubGenerator struct {
	raw     []byte
	err     error
	enabled bool
	calls   int
	lastReq generator.Request
}

func (g *stubGenerator) GenerateCandidates(ctx context.Context, req generator.Request) ([]byte, error) {
	g.calls++
	g.lastReq = req
	return g.raw, g.err
}

func (g *stubGenerator) IsEnabled() bool { return g.enabled }

// MockNotifier is a mock implementation of the notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendDigest(digest *notifications.Digest) error {
	args := m.Called(digest)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		WindowDays:       30,
		MinClusterSize:   4,
		DominanceCutoff:  0.5,
		ExternalMinRatio: 0.8,
	}
}

func testTargets() []models.Target {
	return []models.Target{
		{ID: "acme", Name: "Acme", Type: models.TargetSelf, Keywords: []string{"funding"},
			Strengths: []string{"reliability track record", "enterprise support"}},
		{ID: "rival", Name: "Rival Corp", Type: models.TargetCompetitor},
	}
}

// crisisMentions yields a window with a dominant crisis cluster.
func crisisMentions(now time.Time) []models.Mention {
	categories := []string{"crisis", "crisis", "crisis", "crisis", "legal", "market"}
	var out []models.Mention
	for i, category := range categories {
		ts := now.Add(-time.Duration(i*12) * time.Hour)
		out = append(out, models.Mention{
			ID:          fmt.Sprintf("m%d", i),
			TargetID:    "acme",
			Source:      "news",
			Title:       "coverage item",
			Category:    category,
			PublishedAt: &ts,
			CollectedAt: ts,
		})
	}
	return out
}

func candidatePayload(t *testing.T) []byte {
	t.Helper()
	item := opportunity.ItemCandidate{
		Angle:       "Respond to Rival Corp stumble",
		KeyPoints:   []string{"point"},
		Tone:        "confident",
		Length:      "short",
		CTA:         "read more",
		Urgency:     "immediate",
		ExternalRef: true,
	}
	campaign := opportunity.CampaignCandidate{
		Name:  "Press",
		Items: []opportunity.ItemCandidate{item, item, item},
	}
	raw, err := json.Marshal([]opportunity.Candidate{{
		Title:           "Capitalize on Rival Corp crisis",
		Description:     "desc",
		Category:        "competitive",
		Impact:          80,
		TimeSensitivity: 90,
		Feasibility:     70,
		Urgency:         "high",
		Campaigns:       []opportunity.CampaignCandidate{campaign, campaign},
	}})
	require.NoError(t, err)
	return raw
}

func newTestService(t *testing.T, feed *stubFeed, briefs *stubGenerator, notifier notifications.Notifier) (*Service, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := NewService(testConfig(), store, storage.NoopArchiver{}, feed, briefs, notifier, testTargets())
	return svc, store
}

func TestRunFullPipeline(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{raw: candidatePayload(t), enabled: true}
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)

	svc, store := newTestService(t, feed, briefs, notifier)

	summary := svc.Run(context.Background(), "acme", 30)

	assert.False(t, summary.Failed())
	assert.Equal(t, models.StageNotified, summary.StageReached)
	assert.Equal(t, 1, summary.SignalsCreated)
	assert.Equal(t, 1, summary.OpportunitiesCreated)

	stored, err := store.GetOpportunity("acme", "Capitalize on Rival Corp crisis")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 80, stored.Score)

	notifier.AssertCalled(t, "SendDigest", mock.Anything)

	// The generator request carries the roster's organizational context.
	assert.Equal(t, []string{"Rival Corp"}, briefs.lastReq.Competitors)
	assert.Equal(t, []string{"reliability track record", "enterprise support"}, briefs.lastReq.Strengths)
	require.Len(t, briefs.lastReq.Signals, 1)
}

func TestRunIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{raw: candidatePayload(t), enabled: true}
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)

	svc, _ := newTestService(t, feed, briefs, notifier)

	first := svc.Run(context.Background(), "acme", 30)
	second := svc.Run(context.Background(), "acme", 30)

	assert.Equal(t, 1, first.SignalsCreated)
	assert.Equal(t, 1, first.OpportunitiesCreated)

	// Same mentions, same window: dedup keys absorb everything.
	assert.Equal(t, 0, second.SignalsCreated)
	assert.Equal(t, 0, second.OpportunitiesCreated)
	assert.False(t, second.Failed())
}

func TestRunUnknownTarget(t *testing.T) {
	svc, _ := newTestService(t, &stubFeed{}, &stubGenerator{}, &MockNotifier{})

	summary := svc.Run(context.Background(), "ghost", 30)

	assert.True(t, summary.Failed())
	assert.Equal(t, models.StageCollected, summary.FailedStage)
}

func TestRunFeedFailureStopsAtCollected(t *testing.T) {
	feed := &stubFeed{err: errors.New("categorizer down")}
	svc, _ := newTestService(t, feed, &stubGenerator{}, &MockNotifier{})

	summary := svc.Run(context.Background(), "acme", 30)

	assert.True(t, summary.Failed())
	assert.Equal(t, models.StageCollected, summary.FailedStage)
	assert.NotEmpty(t, summary.Errors)
}

func TestRunInsufficientDataIsSkipNotError(t *testing.T) {
	now := time.Now().UTC()
	ts := now.Add(-time.Hour)
	feed := &stubFeed{mentions: []models.Mention{
		{ID: "only", TargetID: "acme", Source: "news", Title: "one mention", Category: "market", PublishedAt: &ts, CollectedAt: ts},
	}}
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)

	svc, _ := newTestService(t, feed, &stubGenerator{enabled: true}, notifier)

	summary := svc.Run(context.Background(), "acme", 30)

	assert.False(t, summary.Failed())
	assert.Empty(t, summary.Errors)
	assert.NotEmpty(t, summary.Skipped)
	assert.Equal(t, 0, summary.SignalsCreated)
}

func TestRunGeneratorFailureStillPersistsSignal(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{err: errors.New("generator down"), enabled: true}
	svc, store := newTestService(t, feed, briefs, &MockNotifier{})

	summary := svc.Run(context.Background(), "acme", 30)

	assert.True(t, summary.Failed())
	assert.Equal(t, models.StageScored, summary.FailedStage)

	// The clustering signal committed despite the downstream failure.
	assert.Equal(t, 1, summary.SignalsCreated)
	due, err := store.DuePredictions(now.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestRunMalformedGeneratorOutputFallsBack(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{raw: []byte("not json"), enabled: true}
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)

	svc, store := newTestService(t, feed, briefs, notifier)

	summary := svc.Run(context.Background(), "acme", 30)

	assert.False(t, summary.Failed())
	assert.Equal(t, 1, summary.OpportunitiesCreated)

	stored, err := store.GetOpportunity("acme", "Maintain visibility: Acme")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.FallbackUsed)
}

// conflictStore wraps a real store but keeps losing opportunity writes,
// as if another writer held the dedup key for the whole retry budget.
type conflictStore struct {
	*storage.SQLiteStore
}

func (c *conflictStore) UpsertOpportunity(o *models.Opportunity) (bool, error) {
	return false, fmt.Errorf("%w: database is locked", storage.ErrConflict)
}

func TestRunPersistConflictFailsPersistedStage(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{raw: candidatePayload(t), enabled: true}
	notifier := &MockNotifier{}

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := NewService(testConfig(), &conflictStore{store}, storage.NoopArchiver{}, feed, briefs, notifier, testTargets())

	summary := svc.Run(context.Background(), "acme", 30)

	assert.True(t, summary.Failed())
	assert.Equal(t, models.StagePersisted, summary.FailedStage)
	assert.Equal(t, models.StageStructured, summary.StageReached)
	require.NotEmpty(t, summary.Errors)
	assert.Contains(t, summary.Errors[0], "persistent conflict")

	// The signal write does not share the losing key and still commits.
	assert.Equal(t, 1, summary.SignalsCreated)
	assert.Equal(t, 0, summary.OpportunitiesCreated)
	notifier.AssertNotCalled(t, "SendDigest", mock.Anything)
}

func TestRunNotifierFailureKeepsPersistedResults(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{raw: candidatePayload(t), enabled: true}
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(errors.New("webhook down"))

	svc, store := newTestService(t, feed, briefs, notifier)

	summary := svc.Run(context.Background(), "acme", 30)

	assert.True(t, summary.Failed())
	assert.Equal(t, models.StageNotified, summary.FailedStage)
	assert.Equal(t, models.StagePersisted, summary.StageReached)

	stored, err := store.GetOpportunity("acme", "Capitalize on Rival Corp crisis")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestRunAbortsBetweenStages(t *testing.T) {
	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feed := &stubFeed{mentions: crisisMentions(now)}
	svc, _ := newTestService(t, feed, &stubGenerator{enabled: true}, &MockNotifier{})

	summary := svc.Run(ctx, "acme", 30)

	assert.NotEqual(t, models.StageNotified, summary.StageReached)
	assert.NotEmpty(t, summary.Errors)
}

func TestRunAllCoversEveryTarget(t *testing.T) {
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)
	svc, _ := newTestService(t, &stubFeed{}, &stubGenerator{}, notifier)

	summaries := svc.RunAll(context.Background(), 30)

	require.Len(t, summaries, 2)
	seen := map[string]bool{}
	for _, summary := range summaries {
		seen[summary.TargetID] = true
	}
	assert.True(t, seen["acme"])
	assert.True(t, seen["rival"])
}

func TestRecheckDueResolvesUnsupportedPrediction(t *testing.T) {
	now := time.Now().UTC()
	feed := &stubFeed{mentions: crisisMentions(now)}
	briefs := &stubGenerator{raw: candidatePayload(t), enabled: true}
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)

	svc, store := newTestService(t, feed, briefs, notifier)

	summary := svc.Run(context.Background(), "acme", 30)
	require.Equal(t, 1, summary.SignalsCreated)

	// Force the prediction due, then gut the window so clustering no
	// longer qualifies: the re-check should resolve it.
	due, err := store.DuePredictions(now.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, store.UpdatePredictionCheck(due[0].ID, now.Add(-time.Minute), due[0].ConfidenceScore, models.StatusActive))

	svc.config.WindowDays = 0 // empty re-check window

	require.NoError(t, svc.RecheckDue(context.Background()))

	refreshed, err := store.PredictionBySignal(due[0].SignalID)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, models.StatusResolved, refreshed.Status)
}

func TestGetMetrics(t *testing.T) {
	notifier := &MockNotifier{}
	notifier.On("SendDigest", mock.Anything).Return(nil)
	svc, _ := newTestService(t, &stubFeed{}, &stubGenerator{}, notifier)

	svc.Run(context.Background(), "acme", 30)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(svc.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.Runs)
}
