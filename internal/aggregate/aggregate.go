// Package aggregate buckets classified mentions by ISO calendar week and
// rolling time window. All functions are pure over their inputs; cross-run
// state lives in the store, never here.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// WeekKey identifies an ISO-8601 calendar week (Monday start, week 1
// contains the year's first Thursday).
type WeekKey struct {
	Year int
	Week int
}

func (k WeekKey) String() string {
	return fmt.Sprintf("%04d-W%02d", k.Year, k.Week)
}

// Less orders week keys chronologically.
func (k WeekKey) Less(other WeekKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Week < other.Week
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) WeekKey {
	year, week := t.ISOWeek()
	return WeekKey{Year: year, Week: week}
}

// BucketByISOWeek groups mentions by the ISO week of their effective
// timestamp. Mentions within a bucket keep their input order.
func BucketByISOWeek(mentions []models.Mention) map[WeekKey][]models.Mention {
	buckets := make(map[WeekKey][]models.Mention)
	for _, m := range mentions {
		key := WeekOf(m.EffectiveTime())
		buckets[key] = append(buckets[key], m)
	}
	return buckets
}

// SortedWeeks returns bucket keys in chronological order.
func SortedWeeks(buckets map[WeekKey][]models.Mention) []WeekKey {
	keys := make([]WeekKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Window returns the mentions whose effective timestamp is within the
// last `days` days of now.
func Window(mentions []models.Mention, days int, now time.Time) []models.Mention {
	cutoff := now.AddDate(0, 0, -days)
	var out []models.Mention
	for _, m := range mentions {
		if !m.EffectiveTime().Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
