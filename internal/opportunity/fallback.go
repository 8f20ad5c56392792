package opportunity

import (
	"fmt"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// FallbackCandidate is substituted when the generator's structured output
// fails to parse. It is deliberately generic but shape-valid, so the
// pipeline keeps moving; records built from it carry fallback_used=true.
//
// Default framing: neutral sentiment, steady-visibility themes, and
// review-and-regenerate recommendations for both press and customer
// audiences.
func FallbackCandidate(target models.Target) Candidate {
	item := func(angle, cta string) ItemCandidate {
		return ItemCandidate{
			Angle: angle,
			KeyPoints: []string{
				"Summarize recent coverage and its sentiment",
				"Restate current positioning and known strengths",
				"Flag this brief for regeneration with fresh signal data",
			},
			Tone:        "neutral",
			Length:      "short",
			CTA:         cta,
			Urgency:     string(models.ContentThisWeek),
			ExternalRef: false,
		}
	}

	press := CampaignCandidate{
		Name: "Press and analysts",
		Items: []ItemCandidate{
			item(fmt.Sprintf("Maintain steady visibility for %s", target.Name), "Share the latest coverage digest"),
			item("Recap recent announcements and milestones", "Offer a briefing call"),
			item("Reinforce established strengths and track record", "Point to the newsroom page"),
		},
	}

	customers := CampaignCandidate{
		Name: "Customers and community",
		Items: []ItemCandidate{
			item("Highlight ongoing product and service improvements", "Invite feedback"),
			item("Surface recent customer success themes", "Link to case studies"),
			item("Keep the community informed while new signals accrue", "Subscribe to updates"),
		},
	}

	return Candidate{
		Title:           fmt.Sprintf("Maintain visibility: %s", target.Name),
		Description:     fmt.Sprintf("Generator output was unavailable or malformed; default maintenance plan for %s pending regeneration.", target.Name),
		Category:        "visibility",
		Impact:          40,
		TimeSensitivity: 30,
		Feasibility:     80,
		Urgency:         string(models.UrgencyLow),
		Campaigns:       []CampaignCandidate{press, customers},
	}
}
