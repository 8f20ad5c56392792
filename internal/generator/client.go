// Package generator is the client for the external campaign-brief
// generator. It returns the generator's raw structured output; parsing
// and shape enforcement live in the opportunity package.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// Source produces raw opportunity-candidate payloads.
type Source interface {
	GenerateCandidates(ctx context.Context, req Request) ([]byte, error)
	IsEnabled() bool
}

// Request carries the qualifying signals and organizational context the
// generator works from.
type Request struct {
	Target      models.Target             `json:"target"`
	Signals     []models.PredictionSignal `json:"signals"`
	Trends      []models.Trend            `json:"trends"`
	Competitors []string                  `json:"competitors"`
	Strengths   []string                  `json:"strengths,omitempty"`
}

// Client talks to the generator service over HTTP.
type Client struct {
	baseURL string
	client  *resty.Client
	limiter *rate.Limiter
}

var _ Source = (*Client)(nil)

// NewClient creates a generator client with a request timeout; pure
// pipeline stages carry no timeouts.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  resty.New().SetTimeout(30 * time.Second),
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

func (c *Client) IsEnabled() bool {
	return c.baseURL != ""
}

// GenerateCandidates posts the request and returns the raw body. Callers
// own parse failures: malformed output falls back downstream instead of
// failing here.
func (c *Client) GenerateCandidates(ctx context.Context, req Request) ([]byte, error) {
	if !c.IsEnabled() {
		logrus.Debug("Generator disabled - no URL configured")
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.baseURL + "/candidates")
	if err != nil {
		return nil, fmt.Errorf("generator request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("generator returned status %d", resp.StatusCode())
	}

	return resp.Body(), nil
}
