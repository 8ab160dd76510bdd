package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// NominatimProvider queries an OpenStreetMap Nominatim search endpoint.
type NominatimProvider struct {
	client    *http.Client
	endpoint  string
	userAgent string
	country   string
}

func NewNominatimProvider(client *http.Client, endpoint, userAgent, country string) *NominatimProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultNominatimURL
	}
	if country == "" {
		country = "tn"
	}
	return &NominatimProvider{client: client, endpoint: endpoint, userAgent: userAgent, country: country}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *NominatimProvider) Lookup(ctx context.Context, q Query) (*Point, error) {
	parts := []string{q.City}
	if q.Region != "" && !strings.EqualFold(q.Region, q.City) {
		parts = append(parts, q.Region)
	}
	parts = append(parts, "Tunisia")

	params := url.Values{}
	params.Set("q", strings.Join(parts, ", "))
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("countrycodes", n.country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nominatim error %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return &Point{Lat: lat, Lon: lon}, nil
}
