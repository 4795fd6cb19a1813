package engine

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// CostSummary reports month-to-date spend against the configured budget.
func (c *Client) CostSummary(ctx context.Context) (*CostSummary, error) {
	var out CostSummary
	if err := c.get(ctx, "/api/costs/summary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CostHistory reports daily spend between start and end. Zero times leave
// the corresponding bound open.
func (c *Client) CostHistory(ctx context.Context, start, end time.Time) ([]*DailySpend, error) {
	query := url.Values{}
	if !start.IsZero() {
		query.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		query.Set("end", end.Format(time.RFC3339))
	}
	path := "/api/costs/history"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out struct {
		History []*DailySpend `json:"history"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// CostAlerts reports the most recent budget alerts, newest first.
func (c *Client) CostAlerts(ctx context.Context, limit int) ([]*BudgetAlert, error) {
	path := "/api/costs/alerts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Alerts []*BudgetAlert `json:"alerts"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}
