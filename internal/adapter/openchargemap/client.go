// Package openchargemap lists EV charging locations from the Open Charge Map API.
package openchargemap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/city-pulse/internal/domain"
)

const defaultBaseURL = "https://api.openchargemap.io"

// ErrNoKey is returned when no API key is configured.
var ErrNoKey = errors.New("OPENCHARGEMAP_KEY is not set")

// Client fetches points of interest from Open Charge Map.
type Client struct {
	key        string
	country    string
	maxResults int
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the given country code.
func NewClient(key, country string, maxResults int, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		key:        key,
		country:    country,
		maxResults: maxResults,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchHubs lists charging locations for the configured country.
func (c *Client) FetchHubs(ctx context.Context) ([]domain.EvHub, error) {
	if c.key == "" {
		return nil, ErrNoKey
	}
	params := url.Values{
		"output":      {"json"},
		"countrycode": {c.country},
		"maxresults":  {strconv.Itoa(c.maxResults)},
		"compact":     {"true"},
		"verbose":     {"false"},
		"key":         {c.key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/poi/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ocm fetch failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pois []poi
	if err := json.NewDecoder(resp.Body).Decode(&pois); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	hubs := make([]domain.EvHub, 0, len(pois))
	seen := make(map[string]bool, len(pois))
	for _, p := range pois {
		h := p.hub()
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		hubs = append(hubs, h)
	}
	c.logger.Debug("ev hubs fetched", "count", len(hubs))
	return hubs, nil
}

// Open Charge Map response types.

type poi struct {
	ID             *int64       `json:"ID"`
	Name           string       `json:"Name"`
	NumberOfPoints *int         `json:"NumberOfPoints"`
	AddressInfo    addressInfo  `json:"AddressInfo"`
	OperatorInfo   *titled      `json:"OperatorInfo"`
	UsageType      *titled      `json:"UsageType"`
	Connections    []connection `json:"Connections"`
}

type addressInfo struct {
	Title           string   `json:"Title"`
	AddressLine1    string   `json:"AddressLine1"`
	Town            string   `json:"Town"`
	StateOrProvince string   `json:"StateOrProvince"`
	Latitude        *float64 `json:"Latitude"`
	Longitude       *float64 `json:"Longitude"`
}

type titled struct {
	Title string `json:"Title"`
}

type connection struct {
	ConnectionType *titled     `json:"ConnectionType"`
	StatusType     *statusType `json:"StatusType"`
	Quantity       *int        `json:"Quantity"`
}

type statusType struct {
	IsOperational *bool `json:"IsOperational"`
}

func (p poi) hub() domain.EvHub {
	center := domain.CityCenter()
	lat, lng := center.Lat(), center.Lon()
	if p.AddressInfo.Latitude != nil {
		lat = *p.AddressInfo.Latitude
	}
	if p.AddressInfo.Longitude != nil {
		lng = *p.AddressInfo.Longitude
	}

	h := domain.EvHub{
		Name:     firstNonEmpty(p.AddressInfo.Title, p.Name, "EV Hub"),
		Address:  joinNonEmpty(", ", p.AddressInfo.AddressLine1, p.AddressInfo.Town, p.AddressInfo.StateOrProvince),
		Location: orb.Point{lng, lat},
	}
	if p.ID != nil {
		h.ID = strconv.FormatInt(*p.ID, 10)
	} else {
		h.ID = strconv.FormatFloat(lng, 'f', -1, 64) + "-" + strconv.FormatFloat(lat, 'f', -1, 64)
	}
	if p.OperatorInfo != nil {
		h.Operator = p.OperatorInfo.Title
	}
	if p.UsageType != nil {
		h.UsageType = p.UsageType.Title
	}
	if len(p.Connections) > 0 && p.Connections[0].ConnectionType != nil {
		h.Connector = p.Connections[0].ConnectionType.Title
	}
	h.Total, h.Available = p.capacity()
	return h
}

// capacity returns the total charger count and, when any connection
// reports a status, how many are operational.
func (p poi) capacity() (total, available *int) {
	if p.NumberOfPoints != nil {
		n := *p.NumberOfPoints
		total = &n
	}

	var sum, operational int
	var haveQuantity, haveStatus bool
	for _, c := range p.Connections {
		q := 1
		if c.Quantity != nil {
			q = *c.Quantity
			haveQuantity = true
		}
		sum += q
		if c.StatusType != nil && c.StatusType.IsOperational != nil {
			haveStatus = true
			if *c.StatusType.IsOperational {
				operational += q
			}
		}
	}
	if total == nil && haveQuantity {
		total = &sum
	}
	if haveStatus {
		available = &operational
	}
	return total, available
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func joinNonEmpty(sep string, vals ...string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}
