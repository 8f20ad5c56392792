// Package trends detects volume-change and recurring-topic trends over a
// target's recent mentions.
package trends

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pulsewatch/signals-bot/internal/aggregate"
	"github.com/pulsewatch/signals-bot/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// volumeChangeThreshold is the exclusive percent-change bound below
	// which week-over-week volume movement is treated as noise.
	volumeChangeThreshold = 20.0

	// minTopicFrequency is the minimum mention count for a vocabulary
	// keyword to qualify as a recurring topic.
	minTopicFrequency = 3

	// maxTopics caps recurring-topic candidates per run.
	maxTopics = 3

	// maxTrends caps the combined trend list.
	maxTrends = 5
)

// Detect computes the trend list for a target. Volume change comes first,
// then recurring topics in descending frequency; the result is truncated
// to maxTrends. An empty result is a normal outcome, not an error.
func Detect(target models.Target, mentions []models.Mention, now time.Time) []models.Trend {
	var out []models.Trend

	if t, ok := volumeChange(target, mentions, now); ok {
		out = append(out, t)
	}

	out = append(out, recurringTopics(target, mentions, now)...)

	if len(out) > maxTrends {
		out = out[:maxTrends]
	}

	logrus.Debugf("Detected %d trends for target %s", len(out), target.ID)
	return out
}

// volumeChange compares the two most recent weekly buckets. Requires at
// least two buckets; emits only when the change exceeds the threshold in
// either direction.
func volumeChange(target models.Target, mentions []models.Mention, now time.Time) (models.Trend, bool) {
	buckets := aggregate.BucketByISOWeek(mentions)
	if len(buckets) < 2 {
		return models.Trend{}, false
	}

	weeks := aggregate.SortedWeeks(buckets)
	curr := len(buckets[weeks[len(weeks)-1]])
	prev := len(buckets[weeks[len(weeks)-2]])
	if prev == 0 {
		return models.Trend{}, false
	}

	pctChange := float64(curr-prev) / float64(prev) * 100
	if math.Abs(pctChange) <= volumeChangeThreshold {
		return models.Trend{}, false
	}

	direction := "increased"
	if pctChange < 0 {
		direction = "decreased"
	}

	return models.Trend{
		Type:        models.TrendVolumeChange,
		Description: fmt.Sprintf("Mention volume %s by %d%% week over week", direction, int(math.Round(math.Abs(pctChange)))),
		Data: map[string]int{
			"last_week_count": curr,
			"prev_week_count": prev,
		},
		TargetID:   target.ID,
		DetectedAt: now,
	}, true
}

// recurringTopics tallies vocabulary keywords across mention title+content
// (case-insensitive substring match) and keeps the top keywords that
// recur at least minTopicFrequency times.
func recurringTopics(target models.Target, mentions []models.Mention, now time.Time) []models.Trend {
	counts := make(map[string]int)
	for _, m := range mentions {
		content := strings.ToLower(m.Title + " " + m.Content)
		for _, keyword := range target.Keywords {
			if strings.Contains(content, strings.ToLower(keyword)) {
				counts[keyword]++
			}
		}
	}

	type topicCount struct {
		topic string
		count int
	}

	var kept []topicCount
	for topic, count := range counts {
		if count >= minTopicFrequency {
			kept = append(kept, topicCount{topic, count})
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].count != kept[j].count {
			return kept[i].count > kept[j].count
		}
		return kept[i].topic < kept[j].topic
	})

	if len(kept) > maxTopics {
		kept = kept[:maxTopics]
	}

	var out []models.Trend
	for _, tc := range kept {
		out = append(out, models.Trend{
			Type:        models.TrendRecurringTopic,
			Description: fmt.Sprintf("Topic %q recurring across %d recent mentions", tc.topic, tc.count),
			Topic:       tc.topic,
			Data: map[string]int{
				"frequency": tc.count,
			},
			TargetID:   target.ID,
			DetectedAt: now,
		})
	}
	return out
}
