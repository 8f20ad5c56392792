package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/pulsewatch/signals-bot/internal/config"
)

// Service delivers digests via the configured channels.
type Service struct {
	config *config.Config
	client *resty.Client
}

var _ Notifier = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message card.
type TeamsMessage struct {
	Type     string         `json:"@type"`
	Context  string         `json:"@context"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	Sections []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	ActivityText  string      `json:"activityText,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// SendDigest sends a run digest via every configured channel. Channels
// fail independently; the combined error reports all failures.
func (s *Service) SendDigest(digest *Digest) error {
	if len(digest.Predictions) == 0 && len(digest.Opportunities) == 0 {
		logrus.Debugf("Nothing new for %s, skipping digest", digest.TargetName)
		return nil
	}

	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(digest); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Sent Teams digest for %s", digest.TargetName)
		}
	}

	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(digest); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Sent email digest for %s", digest.TargetName)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(digest *Digest) error {
	message := s.buildTeamsMessage(digest)

	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) buildTeamsMessage(digest *Digest) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Signals digest - %s", digest.TargetName),
		Text: fmt.Sprintf("%d new signals, %d new opportunities",
			digest.Summary.SignalsCreated, digest.Summary.OpportunitiesCreated),
	}

	facts := []TeamsFact{
		{Name: "Stage reached", Value: string(digest.Summary.StageReached)},
		{Name: "Window", Value: fmt.Sprintf("%d days", digest.Summary.WindowDays)},
		{Name: "Finished", Value: digest.Summary.FinishedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Run summary",
		Facts:         facts,
		Markdown:      true,
	})

	if len(digest.Predictions) > 0 {
		var lines []string
		for _, p := range digest.Predictions {
			lines = append(lines, fmt.Sprintf("**%s** - %s impact, %d%% confidence, next check %s",
				p.Title, p.ImpactLevel, p.ConfidenceScore, p.NextCheckAt.Format("Jan 2")))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Predictions",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	if len(digest.Opportunities) > 0 {
		var lines []string
		for _, o := range digest.Opportunities {
			lines = append(lines, fmt.Sprintf("**%s** - score %d, %s urgency, %d campaigns",
				o.Title, o.Score, o.Urgency, len(o.StakeholderCampaigns)))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Opportunities",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) sendEmail(digest *Digest) error {
	subject := fmt.Sprintf("Signals digest - %s (%d opportunities)",
		digest.TargetName, len(digest.Opportunities))

	htmlBody, err := s.buildEmailHTML(digest)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func (s *Service) buildEmailHTML(digest *Digest) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Signals Digest</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #2b5797; color: white; padding: 20px; border-radius: 5px; }
        .card { border-left: 4px solid #2b5797; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .card-title { font-weight: bold; margin-bottom: 5px; }
        .card-meta { color: #666; font-size: 0.9em; }
        .high { border-left-color: #d13438; }
        .medium { border-left-color: #ff8c00; }
        .low { border-left-color: #107c10; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Signals Digest - {{.TargetName}}</h1>
        <p>{{.Summary.SignalsCreated}} new signals, {{.Summary.OpportunitiesCreated}} new opportunities</p>
    </div>

    {{if .Predictions}}
    <h2>Predictions</h2>
    {{range .Predictions}}
    <div class="card {{.ImpactLevel}}">
        <div class="card-title">{{.Title}}</div>
        <div class="card-meta">
            {{.Category}} | {{.ImpactLevel}} impact | {{.ConfidenceScore}}% confidence |
            horizon {{.TimeHorizon}} | next check {{.NextCheckAt.Format "Jan 2, 2006"}}
        </div>
        <p>{{.Description}}</p>
    </div>
    {{end}}
    {{end}}

    {{if .Opportunities}}
    <h2>Opportunities</h2>
    {{range .Opportunities}}
    <div class="card {{.Urgency}}">
        <div class="card-title">{{.Title}} (score {{.Score}})</div>
        <div class="card-meta">{{.Urgency}} urgency | {{len .StakeholderCampaigns}} campaigns</div>
        <p>{{.Description}}</p>
    </div>
    {{end}}
    {{end}}

    <hr>
    <p><small>Generated automatically by the signals bot.</small></p>
</body>
</html>
`

	t, err := template.New("digest").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, digest); err != nil {
		return "", err
	}

	return buf.String(), nil
}
