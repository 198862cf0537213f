package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"reelay/internal/encoder"
	"reelay/internal/handler"
	"reelay/internal/outcome"
)

// apiClient speaks the daemon's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(address string) *apiClient {
	return &apiClient{
		base: "http://" + address,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) health(ctx context.Context) (handler.HealthStatus, error) {
	var status handler.HealthStatus
	// Both 200 and 503 carry a valid body.
	if err := c.get(ctx, "/healthz", &status, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return handler.HealthStatus{}, err
	}
	return status, nil
}

func (c *apiClient) stats(ctx context.Context) (map[string]int, error) {
	var payload struct {
		Steps map[string]int `json:"steps"`
	}
	if err := c.get(ctx, "/api/stats", &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return payload.Steps, nil
}

func (c *apiClient) jobs(ctx context.Context, limit int) ([]outcome.JobOutcome, error) {
	var payload struct {
		Jobs []outcome.JobOutcome `json:"jobs"`
	}
	path := fmt.Sprintf("/api/jobs?limit=%d", limit)
	if err := c.get(ctx, path, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

func (c *apiClient) job(ctx context.Context, key string) (*outcome.JobOutcome, error) {
	var out outcome.JobOutcome
	if err := c.get(ctx, "/api/jobs/"+key, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) probe(ctx context.Context, source string) (encoder.MediaInfo, error) {
	body, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		return encoder.MediaInfo{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/probe", bytes.NewReader(body))
	if err != nil {
		return encoder.MediaInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return encoder.MediaInfo{}, fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return encoder.MediaInfo{}, apiError(resp)
	}

	var info encoder.MediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return encoder.MediaInfo{}, fmt.Errorf("decode response: %w", err)
	}
	return info, nil
}

func (c *apiClient) get(ctx context.Context, path string, target any, acceptable ...int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	accepted := false
	for _, code := range acceptable {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s (%s)", payload.Error, resp.Status)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
