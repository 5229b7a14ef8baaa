package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

// Client talks to the pricing HTTP API on behalf of operators and schedulers.
type Client struct {
	baseURL string
	apiKey  string
	client  *resty.Client
}

// QueueDepth describes the pending work. TotalQueue is the number of eligible
// name groups, not a report count; LargestGroup is the report count of the
// biggest of them.
type QueueDepth struct {
	TotalQueue   int `json:"totalQueue"`
	LargestGroup int `json:"largestGroup"`
}

type BatchRequest struct {
	Limit        int `json:"limit,omitempty"`
	GroupByLimit int `json:"groupByLimit,omitempty"`
	Page         int `json:"page,omitempty"`
}

type BatchResult struct {
	RunID          string         `json:"runId"`
	PriceUpdate    int64          `json:"priceUpdate"`
	PriceProcessed int64          `json:"priceProcessed"`
	ManualCheck    bool           `json:"manualCheck"`
	Groups         int            `json:"groups"`
	Outcomes       map[string]int `json:"outcomes"`
}

type PricePoint struct {
	Value    int64  `json:"value"`
	AddedAt  string `json:"addedAt"`
	Inflated bool   `json:"inflated"`
}

type apiError struct {
	Error string `json:"error"`
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetBaseURL(baseURL)
	client.SetHeader("Accept", "application/json")

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

func (c *Client) authorized() *resty.Request {
	return c.client.R().SetHeader("Authorization", "Bearer "+c.apiKey)
}

func decode(resp *resty.Response, out interface{}) error {
	if resp.IsError() {
		var e apiError
		if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status(), e.Error)
		}
		return fmt.Errorf("%s", resp.Status())
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}

func (c *Client) QueueDepth() (*QueueDepth, error) {
	resp, err := c.client.R().Get("/api/v1/prices/process")
	if err != nil {
		return nil, eris.Wrap(err, "queue depth request")
	}
	var out QueueDepth
	if err := decode(resp, &out); err != nil {
		return nil, eris.Wrap(err, "queue depth")
	}
	return &out, nil
}

func (c *Client) RunBatch(req BatchRequest) (*BatchResult, error) {
	resp, err := c.authorized().SetBody(req).Post("/api/v1/prices/process")
	if err != nil {
		return nil, eris.Wrap(err, "run batch request")
	}
	var out BatchResult
	if err := decode(resp, &out); err != nil {
		return nil, eris.Wrap(err, "run batch")
	}
	return &out, nil
}

func (c *Client) ResetHistory() (int64, error) {
	resp, err := c.authorized().Delete("/api/v1/prices/process")
	if err != nil {
		return 0, eris.Wrap(err, "reset history request")
	}
	var out struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	if err := decode(resp, &out); err != nil {
		return 0, eris.Wrap(err, "reset history")
	}
	return out.DeletedCount, nil
}

func (c *Client) PriceHistory(itemID int64) ([]PricePoint, error) {
	params := url.Values{}
	params.Set("item_id", strconv.FormatInt(itemID, 10))
	resp, err := c.client.R().SetQueryParamsFromValues(params).Get("/api/v1/prices")
	if err != nil {
		return nil, eris.Wrap(err, "price history request")
	}
	var out []PricePoint
	if err := decode(resp, &out); err != nil {
		return nil, eris.Wrapf(err, "price history for item %d", itemID)
	}
	return out, nil
}
