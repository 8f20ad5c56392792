package models

import (
	"fmt"
	"strings"
)

// ShapeViolationError reports a cardinality or enum breach detected at
// construction time. Callers are expected to regenerate the offending
// candidate; values are never coerced into range.
type ShapeViolationError struct {
	Field  string
	Reason string
}

func (e *ShapeViolationError) Error() string {
	return fmt.Sprintf("shape violation on %s: %s", e.Field, e.Reason)
}

// PredictionType is the kind of event a clustering signal anticipates.
type PredictionType string

const (
	PredictionCrisisBuilding PredictionType = "crisis_building"
	PredictionMarketShift    PredictionType = "market_shift"
)

// SignalStatus tracks the lifecycle of a signal or prediction.
type SignalStatus string

const (
	StatusActive   SignalStatus = "active"
	StatusResolved SignalStatus = "resolved"
	StatusExpired  SignalStatus = "expired"
)

// ImpactLevel grades a prediction's expected impact.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// PredictionCategory groups predictions for display.
type PredictionCategory string

const (
	CategoryRisk   PredictionCategory = "risk"
	CategoryMarket PredictionCategory = "market"
)

// TimeHorizon is a prediction's expected timeframe.
type TimeHorizon string

const (
	HorizonOneWeek     TimeHorizon = "1-week"
	HorizonOneMonth    TimeHorizon = "1-month"
	HorizonThreeMonths TimeHorizon = "3-months"
	HorizonSixMonths   TimeHorizon = "6-months"
	HorizonOneYear     TimeHorizon = "1-year"
)

// OpportunityUrgency ranks an opportunity. It is a priority label, never
// a duration; duration descriptions belong in StrategicContext.TimeWindow.
type OpportunityUrgency string

const (
	UrgencyHigh   OpportunityUrgency = "high"
	UrgencyMedium OpportunityUrgency = "medium"
	UrgencyLow    OpportunityUrgency = "low"
)

// ContentUrgency is the delivery cadence of a single content item.
type ContentUrgency string

const (
	ContentImmediate ContentUrgency = "immediate"
	ContentThisWeek  ContentUrgency = "this_week"
	ContentThisMonth ContentUrgency = "this_month"
	ContentOngoing   ContentUrgency = "ongoing"
)

// durationMarkers are substrings that identify duration strings leaking
// into urgency fields (e.g. "3-5 days", "2 weeks").
var durationMarkers = []string{
	"day", "week", "month", "year", "hour", "minute",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
}

// ParseOpportunityUrgency validates an urgency label. Duration strings
// get a dedicated error so upstream generators can be corrected.
func ParseOpportunityUrgency(s string) (OpportunityUrgency, error) {
	switch v := OpportunityUrgency(strings.ToLower(strings.TrimSpace(s))); v {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return v, nil
	}
	if looksLikeDuration(s) {
		return "", &ShapeViolationError{Field: "urgency", Reason: fmt.Sprintf("duration string %q not allowed; use strategic_context.time_window", s)}
	}
	return "", &ShapeViolationError{Field: "urgency", Reason: fmt.Sprintf("unknown value %q", s)}
}

// ParseContentUrgency validates a content item's urgency.
func ParseContentUrgency(s string) (ContentUrgency, error) {
	switch v := ContentUrgency(strings.ToLower(strings.TrimSpace(s))); v {
	case ContentImmediate, ContentThisWeek, ContentThisMonth, ContentOngoing:
		return v, nil
	}
	return "", &ShapeViolationError{Field: "content_urgency", Reason: fmt.Sprintf("unknown value %q", s)}
}

// ParseImpactLevel validates an impact level.
func ParseImpactLevel(s string) (ImpactLevel, error) {
	switch v := ImpactLevel(strings.ToLower(strings.TrimSpace(s))); v {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return v, nil
	}
	return "", &ShapeViolationError{Field: "impact_level", Reason: fmt.Sprintf("unknown value %q", s)}
}

// ParseTimeHorizon validates a prediction time horizon.
func ParseTimeHorizon(s string) (TimeHorizon, error) {
	switch v := TimeHorizon(strings.TrimSpace(s)); v {
	case HorizonOneWeek, HorizonOneMonth, HorizonThreeMonths, HorizonSixMonths, HorizonOneYear:
		return v, nil
	}
	return "", &ShapeViolationError{Field: "time_horizon", Reason: fmt.Sprintf("unknown value %q", s)}
}

func looksLikeDuration(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range durationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
