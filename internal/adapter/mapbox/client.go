// Package mapbox implements geocoding and live traffic tiles on the Mapbox APIs.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

const (
	defaultGeocodeURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	defaultTilesURL   = "https://api.mapbox.com/v4"

	// forwardTypes restricts search to places a user would fly to.
	forwardTypes = "place,poi,locality,neighborhood,address"
)

// Client implements domain.Geocoder using the Mapbox Geocoding API, and
// fetches vector tiles for traffic.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	tilesURL   string
	limiter    *rate.Limiter // nil disables client-side limiting
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox client allowing at most ratePerSec requests
// per second. A non-positive rate disables limiting.
func NewClient(token string, timeout time.Duration, ratePerSec float64, metrics *observability.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  defaultGeocodeURL,
		tilesURL: defaultTilesURL,
		metrics:  metrics,
		logger:   logger,
	}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), max(1, int(ratePerSec)))
	}
	return c
}

// ForwardGeocode resolves a free-text query to the best match, biased
// toward the city center.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	center := domain.CityCenter()
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {forwardTypes},
		"proximity":    {formatCoord(center.Lon()) + "," + formatCoord(center.Lat())},
	}

	return c.geocode(ctx, u+"?"+params.Encode(), "forward")
}

// ReverseGeocode converts coordinates to place details.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	u := fmt.Sprintf("%s/%s.json", c.baseURL, coord)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}

	return c.geocode(ctx, u+"?"+params.Encode(), "reverse")
}

func (c *Client) geocode(ctx context.Context, fullURL, method string) (domain.GeocodingResult, error) {
	body, err := c.get(ctx, fullURL, method)
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return domain.GeocodingResult{}, err
	}
	defer body.Close()

	var mapboxResp response
	if err := json.NewDecoder(body).Decode(&mapboxResp); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(method, "empty").Inc()
		return domain.GeocodingResult{}, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()

	f := mapboxResp.Features[0]
	result := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		result.Lon = f.Center[0]
		result.Lat = f.Center[1]
	}
	return result, nil
}

// get performs a rate-limited GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, fullURL, method string) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit: %w", method, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("mapbox API error", "method", method, "status", resp.StatusCode)
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}
	return resp.Body, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}
