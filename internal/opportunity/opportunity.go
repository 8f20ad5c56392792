// Package opportunity scores qualifying signals and trends into structured
// opportunities and enforces the campaign/content-brief shape rules.
package opportunity

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pulsewatch/signals-bot/internal/models"
	"github.com/sirupsen/logrus"
)

// Scoring weights. Sub-scores arrive on a 0-100 scale from the candidate
// generator; the weighted result is rounded and clamped to [0,100].
const (
	impactWeight      = 0.40
	sensitivityWeight = 0.30
	feasibilityWeight = 0.30
)

// Cardinality bounds enforced at construction.
const (
	minCampaigns    = 2
	maxCampaigns    = 4
	minContentItems = 3
	maxContentItems = 7
)

// Candidate is one structured opportunity proposal from the external
// brief generator.
type Candidate struct {
	Title           string              `json:"title"`
	Description     string              `json:"description"`
	Category        string              `json:"category"`
	Impact          float64             `json:"impact"`
	TimeSensitivity float64             `json:"time_sensitivity"`
	Feasibility     float64             `json:"feasibility"`
	Urgency         string              `json:"urgency"`
	Campaigns       []CampaignCandidate `json:"stakeholder_campaigns"`
}

// CampaignCandidate proposes one stakeholder campaign.
type CampaignCandidate struct {
	Name  string          `json:"name"`
	Items []ItemCandidate `json:"content_items"`
}

// ItemCandidate proposes one content brief. ExternalRef marks angles
// anchored on a specific competitor or market event, as opposed to
// purely internal messaging; the generator sets it per item.
type ItemCandidate struct {
	Angle       string   `json:"angle"`
	KeyPoints   []string `json:"key_points"`
	Tone        string   `json:"tone"`
	Length      string   `json:"length"`
	CTA         string   `json:"cta"`
	Urgency     string   `json:"urgency"`
	ExternalRef bool     `json:"external_ref"`
	TimeWindow  string   `json:"time_window,omitempty"`
}

// Score computes the weighted opportunity score.
func Score(impact, timeSensitivity, feasibility float64) int {
	raw := impact*impactWeight + timeSensitivity*sensitivityWeight + feasibility*feasibilityWeight
	score := int(math.Round(raw))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// NormalizeTitle produces the dedup form of an opportunity title: trim
// and case-fold, nothing fuzzier.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Build validates a candidate into a persistable Opportunity. Any
// cardinality or enum breach returns a ShapeViolationError and no
// opportunity; values are never clamped into range.
func Build(target models.Target, c Candidate, now time.Time) (models.Opportunity, error) {
	if strings.TrimSpace(c.Title) == "" {
		return models.Opportunity{}, &models.ShapeViolationError{Field: "title", Reason: "must not be empty"}
	}

	urgency, err := models.ParseOpportunityUrgency(c.Urgency)
	if err != nil {
		return models.Opportunity{}, err
	}

	if n := len(c.Campaigns); n < minCampaigns || n > maxCampaigns {
		return models.Opportunity{}, &models.ShapeViolationError{
			Field:  "stakeholder_campaigns",
			Reason: fmt.Sprintf("count %d outside [%d,%d]", n, minCampaigns, maxCampaigns),
		}
	}

	campaigns := make([]models.StakeholderCampaign, 0, len(c.Campaigns))
	for _, cc := range c.Campaigns {
		campaign, err := buildCampaign(cc)
		if err != nil {
			return models.Opportunity{}, err
		}
		campaigns = append(campaigns, campaign)
	}

	return models.Opportunity{
		ID:                   uuid.NewString(),
		TargetID:             target.ID,
		Title:                strings.TrimSpace(c.Title),
		Description:          c.Description,
		Category:             c.Category,
		Score:                Score(c.Impact, c.TimeSensitivity, c.Feasibility),
		Urgency:              urgency,
		StakeholderCampaigns: campaigns,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

func buildCampaign(cc CampaignCandidate) (models.StakeholderCampaign, error) {
	if strings.TrimSpace(cc.Name) == "" {
		return models.StakeholderCampaign{}, &models.ShapeViolationError{Field: "campaign.name", Reason: "must not be empty"}
	}

	if n := len(cc.Items); n < minContentItems || n > maxContentItems {
		return models.StakeholderCampaign{}, &models.ShapeViolationError{
			Field:  "content_items",
			Reason: fmt.Sprintf("count %d outside [%d,%d]", n, minContentItems, maxContentItems),
		}
	}

	items := make([]models.ContentItem, 0, len(cc.Items))
	for _, ic := range cc.Items {
		item, err := buildItem(ic)
		if err != nil {
			return models.StakeholderCampaign{}, err
		}
		items = append(items, item)
	}

	return models.StakeholderCampaign{Name: cc.Name, ContentItems: items}, nil
}

func buildItem(ic ItemCandidate) (models.ContentItem, error) {
	for field, value := range map[string]string{
		"angle":  ic.Angle,
		"tone":   ic.Tone,
		"length": ic.Length,
		"cta":    ic.CTA,
	} {
		if strings.TrimSpace(value) == "" {
			return models.ContentItem{}, &models.ShapeViolationError{Field: field, Reason: "must not be empty"}
		}
	}

	if len(ic.KeyPoints) == 0 {
		return models.ContentItem{}, &models.ShapeViolationError{Field: "key_points", Reason: "must not be empty"}
	}

	urgency, err := models.ParseContentUrgency(ic.Urgency)
	if err != nil {
		return models.ContentItem{}, err
	}

	item := models.ContentItem{
		Angle:     ic.Angle,
		KeyPoints: ic.KeyPoints,
		Tone:      ic.Tone,
		Length:    ic.Length,
		CTA:       ic.CTA,
		Urgency:   urgency,
	}

	if ic.TimeWindow != "" {
		item.StrategicContext = &models.StrategicContext{TimeWindow: ic.TimeWindow}
	}

	return item, nil
}

// Batch is the structured result of one generation round.
type Batch struct {
	Opportunities   []models.Opportunity
	ExternalRatio   float64
	ExternalRatioOK bool
	FallbackUsed    bool
	Rejected        []error
}

// BuildBatch parses the generator's raw output and validates each
// candidate. Malformed payloads fall back to the documented default
// candidate (flagged, pipeline continues); shape violations reject the
// single candidate, not the batch.
func BuildBatch(target models.Target, raw []byte, minExternalRatio float64, now time.Time) Batch {
	candidates, fallback := parseCandidates(target, raw)

	var batch Batch
	batch.FallbackUsed = fallback

	externalItems, totalItems := 0, 0
	for _, c := range candidates {
		opp, err := Build(target, c, now)
		if err != nil {
			logrus.Warnf("Rejected opportunity candidate %q for %s: %v", c.Title, target.ID, err)
			batch.Rejected = append(batch.Rejected, err)
			continue
		}
		opp.FallbackUsed = fallback
		batch.Opportunities = append(batch.Opportunities, opp)

		for _, cc := range c.Campaigns {
			for _, ic := range cc.Items {
				totalItems++
				if ic.ExternalRef {
					externalItems++
				}
			}
		}
	}

	if totalItems > 0 {
		batch.ExternalRatio = float64(externalItems) / float64(totalItems)
	}
	batch.ExternalRatioOK = totalItems == 0 || batch.ExternalRatio >= minExternalRatio

	if !batch.ExternalRatioOK {
		logrus.Warnf("Opportunity batch for %s failed external-reference check: %.0f%% of angles anchored externally (need %.0f%%)",
			target.ID, batch.ExternalRatio*100, minExternalRatio*100)
	}

	return batch
}

// parseCandidates decodes the generator payload, substituting the default
// candidate when the payload does not parse.
func parseCandidates(target models.Target, raw []byte) ([]Candidate, bool) {
	var candidates []Candidate
	if err := json.Unmarshal(raw, &candidates); err != nil || len(candidates) == 0 {
		logrus.WithField("fallback_used", true).Warnf("Generator output for %s unparseable, using fallback candidate", target.ID)
		return []Candidate{FallbackCandidate(target)}, true
	}
	return candidates, false
}
