package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpportunityUrgency(t *testing.T) {
	tests := []struct {
		input   string
		want    OpportunityUrgency
		wantErr bool
	}{
		{"high", UrgencyHigh, false},
		{" Medium ", UrgencyMedium, false},
		{"LOW", UrgencyLow, false},
		{"3-5 days", "", true},
		{"immediate", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOpportunityUrgency(tt.input)

			if tt.wantErr {
				var shapeErr *ShapeViolationError
				require.ErrorAs(t, err, &shapeErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOpportunityUrgencyDurationMessage(t *testing.T) {
	_, err := ParseOpportunityUrgency("2 weeks")

	var shapeErr *ShapeViolationError
	require.ErrorAs(t, err, &shapeErr)
	assert.Contains(t, shapeErr.Reason, "duration string")
}

func TestParseContentUrgency(t *testing.T) {
	for _, valid := range []string{"immediate", "this_week", "this_month", "ongoing"} {
		got, err := ParseContentUrgency(valid)
		require.NoError(t, err)
		assert.Equal(t, ContentUrgency(valid), got)
	}

	_, err := ParseContentUrgency("high")
	assert.Error(t, err)
}

func TestParseImpactLevel(t *testing.T) {
	got, err := ParseImpactLevel("High")
	require.NoError(t, err)
	assert.Equal(t, ImpactHigh, got)

	_, err = ParseImpactLevel("severe")
	assert.Error(t, err)
}

func TestParseTimeHorizon(t *testing.T) {
	got, err := ParseTimeHorizon("6-months")
	require.NoError(t, err)
	assert.Equal(t, HorizonSixMonths, got)

	_, err = ParseTimeHorizon("2-weeks")
	assert.Error(t, err)
}

func TestMentionEffectiveTime(t *testing.T) {
	published := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	collected := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	withPublish := Mention{PublishedAt: &published, CollectedAt: collected}
	assert.Equal(t, published, withPublish.EffectiveTime())

	withoutPublish := Mention{CollectedAt: collected}
	assert.Equal(t, collected, withoutPublish.EffectiveTime())
}
