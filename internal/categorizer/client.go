// Package categorizer is the client for the external classification
// collaborator: it hands back mentions that already carry a category and
// optional sentiment. Classification itself happens on the other side of
// this interface.
package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// Feed fetches classified mentions for a target.
type Feed interface {
	FetchClassified(ctx context.Context, target models.Target, windowDays int) ([]models.Mention, error)
	IsEnabled() bool
}

// Client talks to the categorizer service over HTTP.
type Client struct {
	baseURL string
	client  *resty.Client
	limiter *rate.Limiter
}

var _ Feed = (*Client)(nil)

// classifiedRecord is the categorizer's wire format, one per mention.
type classifiedRecord struct {
	TargetID    string     `json:"target_id"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Category    string     `json:"category"`
	Sentiment   string     `json:"sentiment,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
}

// NewClient creates a categorizer client. Timeouts apply here, on the
// external call, not to the pure pipeline stages downstream.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  resty.New().SetTimeout(30 * time.Second),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (c *Client) IsEnabled() bool {
	return c.baseURL != ""
}

// FetchClassified pulls the classified mentions for a target within the
// analysis window. Records that fail basic validation are skipped with a
// warning rather than failing the batch.
func (c *Client) FetchClassified(ctx context.Context, target models.Target, windowDays int) ([]models.Mention, error) {
	if !c.IsEnabled() {
		logrus.Debug("Categorizer feed disabled - no URL configured")
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("target_id", target.ID).
		SetQueryParam("window_days", fmt.Sprintf("%d", windowDays)).
		Get(c.baseURL + "/classified")
	if err != nil {
		return nil, fmt.Errorf("categorizer request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("categorizer returned status %d", resp.StatusCode())
	}

	var records []classifiedRecord
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return nil, fmt.Errorf("failed to decode categorizer response: %w", err)
	}

	var mentions []models.Mention
	for _, r := range records {
		if r.TargetID == "" || r.Title == "" {
			logrus.Warnf("Skipping malformed classified record from categorizer (target=%q title=%q)", r.TargetID, r.Title)
			continue
		}
		if r.CollectedAt.IsZero() {
			r.CollectedAt = time.Now().UTC()
		}
		mentions = append(mentions, models.Mention{
			ID:          mentionID(r),
			TargetID:    r.TargetID,
			Source:      r.Source,
			URL:         r.URL,
			Title:       r.Title,
			Content:     r.Content,
			Category:    r.Category,
			Sentiment:   r.Sentiment,
			PublishedAt: r.PublishedAt,
			CollectedAt: r.CollectedAt,
		})
	}

	logrus.Infof("Fetched %d classified mentions for %s", len(mentions), target.ID)
	return mentions, nil
}

// mentionID prefers a stable id derived from the source URL so re-fetched
// articles dedup in the store; URL-less records get a fresh uuid.
func mentionID(r classifiedRecord) string {
	if r.URL != "" {
		return fmt.Sprintf("%s_%s", r.Source, uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.URL)).String())
	}
	return uuid.NewString()
}
