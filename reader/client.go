// Package reader talks to the metering API: authenticated requests,
// response unwrapping, and boundary error classification.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"meterflow/config"
	"meterflow/logger"
)

// Meter identifies one discoverable meter.
type Meter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the authenticated API client. All requests share a pooled
// transport and a rate limiter sized from configuration.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.API.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.API.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.API.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.API.ConnectionPool.IdleConnTimeout,
	}

	client := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.API.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.API.RateLimit.RequestsPerSecond), cfg.API.RateLimit.BurstSize),
		log:     logger.GetLogger(),
	}

	client.log.WithComponent("api_client").WithFields(logger.Fields{
		"base_url":           cfg.API.BaseURL,
		"max_conns_per_host": cfg.API.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.API.Timeout,
	}).Info("api client initialized")

	return client
}

// buildHeaders assembles the merchant authentication headers. Content-type
// is only sent on methods that carry a body.
func (c *Client) buildHeaders(method string) http.Header {
	headers := http.Header{}
	headers.Set("x-merchant-token", c.cfg.API.MerchantToken)
	headers.Set("accept", "application/json")
	headers.Set("origin", c.cfg.API.Origin)
	headers.Set("referer", c.cfg.API.Referer)
	headers.Set("user-agent", c.cfg.API.UserAgent)

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		headers.Set("content-type", "application/json")
	}
	return headers
}

func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: "request cancelled while rate limited", Err: err}
	}

	reqURL := c.cfg.API.BaseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: "failed to build request", Err: err}
	}
	req.Header = c.buildHeaders(method)

	log := c.log.WithComponent("api_client").WithFields(logger.Fields{
		"method":   method,
		"endpoint": endpoint,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: fmt.Sprintf("request to %s failed", endpoint), Err: err}
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "api_client", "api_request", time.Since(start), nil)

	if resp.StatusCode >= 400 {
		kind := classifyStatus(resp.StatusCode)
		log.WithFields(logger.Fields{"status": resp.StatusCode, "kind": kind}).Warn("api request failed")
		return nil, &APIError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &APIError{Kind: KindMalformed, Message: "failed to decode response body", Err: err}
	}
	return payload, nil
}

// GetMeters fetches all meters associated with the authenticated merchant.
// The discovery response nests each meter under data[].meter.
func (c *Client) GetMeters(ctx context.Context) ([]Meter, error) {
	log := c.log.WithComponent("api_client")
	log.Info("fetching available meters")

	payload, err := c.request(ctx, http.MethodGet, c.cfg.API.DiscoveryEndpoint, nil)
	if err != nil {
		return nil, err
	}

	items, ok := payload["data"].([]any)
	if !ok {
		log.Warn("unexpected discovery response structure")
		return nil, nil
	}

	var meters []Meter
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := entry["meter"].(map[string]any)
		if !ok {
			continue
		}
		id := stringID(raw["id"])
		if id == "" {
			continue
		}
		name, _ := raw["name"].(string)
		meters = append(meters, Meter{ID: id, Name: name})
	}

	log.WithFields(logger.Fields{"count": len(meters)}).Info("discovered meters")
	return meters, nil
}

// GetMeterStatus fetches the current status payload for one meter,
// unwrapping the nested data object when present.
func (c *Client) GetMeterStatus(ctx context.Context, meterID string) (map[string]any, error) {
	endpoint := fmt.Sprintf("/merchant/meter/%s/sync-status", meterID)
	payload, err := c.request(ctx, c.cfg.API.StatusMethod, endpoint, nil)
	if err != nil {
		return nil, err
	}

	if data, ok := payload["data"].(map[string]any); ok {
		return data, nil
	}
	return payload, nil
}

// GetMeterTransactions fetches transaction history for a date range
// (YYYY-MM-DD). Backends that return a list are normalised to a map keyed
// by index.
func (c *Client) GetMeterTransactions(ctx context.Context, meterID, dateFrom, dateTo string) (map[string]any, error) {
	endpoint := fmt.Sprintf("/merchant/meter/%s/transactions", meterID)
	query := url.Values{}
	query.Set("date_from", dateFrom)
	query.Set("date_to", dateTo)

	payload, err := c.request(ctx, http.MethodGet, endpoint, query)
	if err != nil {
		return nil, err
	}

	data, ok := payload["data"]
	if !ok {
		return map[string]any{}, nil
	}
	switch d := data.(type) {
	case map[string]any:
		return d, nil
	case []any:
		txs := make(map[string]any, len(d))
		for i, tx := range d {
			txs[strconv.Itoa(i)] = tx
		}
		return txs, nil
	}
	return map[string]any{}, nil
}

// stringID normalises meter ids, which some endpoints return as JSON
// numbers.
func stringID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case int:
		return strconv.Itoa(id)
	}
	return ""
}
