package opportunity

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/signals-bot/internal/models"
)

var now = time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)

func target() models.Target {
	return models.Target{ID: "acme", Name: "Acme", Type: models.TargetCompetitor}
}

func validItem(external bool) ItemCandidate {
	return ItemCandidate{
		Angle:       "Respond to competitor pricing announcement",
		KeyPoints:   []string{"compare pricing tiers", "highlight migration path"},
		Tone:        "confident",
		Length:      "medium",
		CTA:         "Book a demo",
		Urgency:     "this_week",
		ExternalRef: external,
	}
}

func validCampaign(items int) CampaignCandidate {
	cc := CampaignCandidate{Name: "Press and analysts"}
	for i := 0; i < items; i++ {
		cc.Items = append(cc.Items, validItem(true))
	}
	return cc
}

func validCandidate(campaigns, itemsPer int) Candidate {
	c := Candidate{
		Title:           "Counter competitor launch",
		Description:     "Competitor shipped a rival product",
		Category:        "competitive",
		Impact:          80,
		TimeSensitivity: 90,
		Feasibility:     70,
		Urgency:         "high",
	}
	for i := 0; i < campaigns; i++ {
		campaign := validCampaign(itemsPer)
		campaign.Name = fmt.Sprintf("Audience %d", i+1)
		c.Campaigns = append(c.Campaigns, campaign)
	}
	return c
}

func TestScore(t *testing.T) {
	tests := []struct {
		name                                 string
		impact, timeSensitivity, feasibility float64
		want                                 int
	}{
		{"weighted blend", 80, 90, 70, 80}, // 32 + 27 + 21
		{"all zero", 0, 0, 0, 0},
		{"all max", 100, 100, 100, 100},
		{"rounds to nearest", 85, 75, 65, 76}, // 34 + 22.5 + 19.5 = 76
		{"clamps above 100", 200, 200, 200, 100},
		{"clamps below 0", -50, -50, -50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.impact, tt.timeSensitivity, tt.feasibility))
		})
	}
}

func TestBuildCampaignCardinality(t *testing.T) {
	tests := []struct {
		campaigns int
		ok        bool
	}{
		{1, false},
		{2, true},
		{3, true},
		{4, true},
		{5, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d campaigns", tt.campaigns), func(t *testing.T) {
			_, err := Build(target(), validCandidate(tt.campaigns, 3), now)

			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var shapeErr *models.ShapeViolationError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, "stakeholder_campaigns", shapeErr.Field)
		})
	}
}

func TestBuildContentItemCardinality(t *testing.T) {
	tests := []struct {
		items int
		ok    bool
	}{
		{2, false},
		{3, true},
		{7, true},
		{8, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d items", tt.items), func(t *testing.T) {
			_, err := Build(target(), validCandidate(2, tt.items), now)

			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var shapeErr *models.ShapeViolationError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, "content_items", shapeErr.Field)
		})
	}
}

func TestBuildRejectsDurationUrgency(t *testing.T) {
	c := validCandidate(2, 3)
	c.Urgency = "3-5 days"

	_, err := Build(target(), c, now)

	var shapeErr *models.ShapeViolationError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "urgency", shapeErr.Field)
	assert.Contains(t, shapeErr.Reason, "strategic_context.time_window")
}

func TestBuildRejectsBadContentFields(t *testing.T) {
	breakItem := func(mutate func(*ItemCandidate)) Candidate {
		c := validCandidate(2, 3)
		mutate(&c.Campaigns[1].Items[2])
		return c
	}

	tests := []struct {
		name   string
		input  Candidate
		reason string
	}{
		{"empty angle", breakItem(func(i *ItemCandidate) { i.Angle = "" }), "angle"},
		{"empty key points", breakItem(func(i *ItemCandidate) { i.KeyPoints = nil }), "key_points"},
		{"empty cta", breakItem(func(i *ItemCandidate) { i.CTA = "  " }), "cta"},
		{"bad content urgency", breakItem(func(i *ItemCandidate) { i.Urgency = "someday" }), "content_urgency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(target(), tt.input, now)

			var shapeErr *models.ShapeViolationError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, tt.reason, shapeErr.Field)
		})
	}
}

func TestBuildCarriesTimeWindowIntoStrategicContext(t *testing.T) {
	c := validCandidate(2, 3)
	c.Campaigns[0].Items[0].TimeWindow = "3-5 days"

	opp, err := Build(target(), c, now)

	require.NoError(t, err)
	item := opp.StakeholderCampaigns[0].ContentItems[0]
	require.NotNil(t, item.StrategicContext)
	assert.Equal(t, "3-5 days", item.StrategicContext.TimeWindow)
	assert.Equal(t, models.UrgencyHigh, opp.Urgency)
	assert.Equal(t, 80, opp.Score)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "counter competitor launch", NormalizeTitle("  Counter Competitor LAUNCH "))
}

func TestBuildBatchFallbackOnMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"garbage", []byte("not json at all")},
		{"empty body", nil},
		{"empty array", []byte("[]")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := BuildBatch(target(), tt.raw, 0.8, now)

			assert.True(t, batch.FallbackUsed)
			require.Len(t, batch.Opportunities, 1)
			opp := batch.Opportunities[0]
			assert.True(t, opp.FallbackUsed)
			assert.Equal(t, models.UrgencyLow, opp.Urgency)
			assert.Len(t, opp.StakeholderCampaigns, 2)
			for _, campaign := range opp.StakeholderCampaigns {
				assert.Len(t, campaign.ContentItems, 3)
			}
		})
	}
}

func marshalCandidates(candidates []Candidate) ([]byte, error) {
	return json.Marshal(candidates)
}

func TestBuildBatchExternalRatio(t *testing.T) {
	// Two candidates of six items each; only half the angles reference
	// external events, well short of the 80% floor.
	mixed := func(external int) Candidate {
		c := validCandidate(2, 3)
		count := 0
		for i := range c.Campaigns {
			for j := range c.Campaigns[i].Items {
				c.Campaigns[i].Items[j].ExternalRef = count < external
				count++
			}
		}
		return c
	}

	raw, err := marshalCandidates([]Candidate{mixed(3), mixed(3)})
	require.NoError(t, err)

	batch := BuildBatch(target(), raw, 0.8, now)

	assert.False(t, batch.FallbackUsed)
	assert.Len(t, batch.Opportunities, 2)
	assert.InDelta(t, 0.5, batch.ExternalRatio, 0.001)
	assert.False(t, batch.ExternalRatioOK)
}

func TestBuildBatchExternalRatioPasses(t *testing.T) {
	raw, err := marshalCandidates([]Candidate{validCandidate(2, 3)})
	require.NoError(t, err)

	batch := BuildBatch(target(), raw, 0.8, now)

	assert.True(t, batch.ExternalRatioOK)
	assert.InDelta(t, 1.0, batch.ExternalRatio, 0.001)
}

func TestBuildBatchRejectsOnlyBadCandidates(t *testing.T) {
	bad := validCandidate(2, 3)
	bad.Urgency = "2 weeks"

	raw, err := marshalCandidates([]Candidate{validCandidate(2, 3), bad})
	require.NoError(t, err)

	batch := BuildBatch(target(), raw, 0.8, now)

	assert.False(t, batch.FallbackUsed)
	assert.Len(t, batch.Opportunities, 1)
	require.Len(t, batch.Rejected, 1)
	var shapeErr *models.ShapeViolationError
	assert.ErrorAs(t, batch.Rejected[0], &shapeErr)
}
