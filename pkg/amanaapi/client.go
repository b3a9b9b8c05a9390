// Package amanaapi fetches the transit document published by the bus
// operator. The document is decoded as-is; turning it into domain routes is
// the feed package's job.
package amanaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	url        string
	httpClient *http.Client
}

func New(url string) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Document is the published transit document. Pointer fields distinguish a
// missing value from a zero one.
type Document struct {
	BusLines           []BusLine           `json:"bus_lines" yaml:"bus_lines"`
	OperationalSummary *OperationalSummary `json:"operational_summary,omitempty" yaml:"operational_summary,omitempty"`
}

type OperationalSummary struct {
	TotalBuses         int     `json:"total_buses" yaml:"total_buses"`
	ActiveBuses        int     `json:"active_buses" yaml:"active_buses"`
	TotalCapacity      int     `json:"total_capacity" yaml:"total_capacity"`
	CurrentPassengers  int     `json:"current_passengers" yaml:"current_passengers"`
	AverageUtilization float64 `json:"average_utilization" yaml:"average_utilization"`
}

type BusLine struct {
	ID              *int        `json:"id" yaml:"id" validate:"required"`
	Name            string      `json:"name" yaml:"name"`
	Status          string      `json:"status,omitempty" yaml:"status,omitempty"`
	Passengers      *Passengers `json:"passengers,omitempty" yaml:"passengers,omitempty"`
	BusStops        []BusStop   `json:"bus_stops" yaml:"bus_stops"`
	CurrentLocation *Location   `json:"current_location" yaml:"current_location" validate:"required"`
}

type Passengers struct {
	Current  int `json:"current" yaml:"current" validate:"gte=0"`
	Capacity int `json:"capacity" yaml:"capacity" validate:"gte=0"`
}

type BusStop struct {
	Latitude  *float64 `json:"latitude" yaml:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" yaml:"longitude" validate:"required,gte=-180,lte=180"`
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
}

type Location struct {
	Latitude  *float64 `json:"latitude" yaml:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" yaml:"longitude" validate:"required,gte=-180,lte=180"`
}

func (c *Client) Fetch(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &doc, nil
}
