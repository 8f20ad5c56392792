package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsewatch/signals-bot/internal/models"
)

func mention(id string, published time.Time) models.Mention {
	return models.Mention{
		ID:          id,
		TargetID:    "acme",
		Title:       "title " + id,
		PublishedAt: &published,
		CollectedAt: published.Add(2 * time.Hour),
	}
}

func TestWeekOf(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want WeekKey
	}{
		{
			// 2026-01-01 is a Thursday, so week 1 starts Monday 2025-12-29.
			name: "year boundary day belongs to new year's week 1",
			time: time.Date(2025, 12, 29, 10, 0, 0, 0, time.UTC),
			want: WeekKey{Year: 2026, Week: 1},
		},
		{
			name: "first thursday anchors week 1",
			time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			want: WeekKey{Year: 2026, Week: 1},
		},
		{
			name: "sunday closes the week",
			time: time.Date(2026, 1, 4, 23, 59, 0, 0, time.UTC),
			want: WeekKey{Year: 2026, Week: 1},
		},
		{
			name: "monday opens week 2",
			time: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			want: WeekKey{Year: 2026, Week: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekOf(tt.time))
		})
	}
}

func TestBucketByISOWeek(t *testing.T) {
	week1 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // Monday, W10
	week2 := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) // Monday, W11

	buckets := BucketByISOWeek([]models.Mention{
		mention("a", week1),
		mention("b", week1.Add(24*time.Hour)),
		mention("c", week2),
	})

	assert.Len(t, buckets, 2)
	assert.Len(t, buckets[WeekKey{2026, 10}], 2)
	assert.Len(t, buckets[WeekKey{2026, 11}], 1)
}

func TestBucketUsesCollectedAtWhenPublishMissing(t *testing.T) {
	collected := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	m := models.Mention{ID: "x", CollectedAt: collected}

	buckets := BucketByISOWeek([]models.Mention{m})

	assert.Len(t, buckets[WeekOf(collected)], 1)
}

func TestSortedWeeks(t *testing.T) {
	buckets := map[WeekKey][]models.Mention{
		{2026, 2}:  nil,
		{2025, 52}: nil,
		{2026, 1}:  nil,
	}

	assert.Equal(t, []WeekKey{{2025, 52}, {2026, 1}, {2026, 2}}, SortedWeeks(buckets))
}

func TestWindow(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	inside := mention("in", now.AddDate(0, 0, -10))
	boundary := mention("edge", now.AddDate(0, 0, -30))
	outside := mention("out", now.AddDate(0, 0, -31))

	got := Window([]models.Mention{inside, boundary, outside}, 30, now)

	assert.Len(t, got, 2)
	assert.Equal(t, "in", got[0].ID)
	assert.Equal(t, "edge", got[1].ID)
}
