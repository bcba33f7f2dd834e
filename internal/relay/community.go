package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

// DefaultCommunityMessage is shown when the webhook accepted a report
// without saying anything.
const DefaultCommunityMessage = "Submitted to webhook"

// communityPayload is the webhook wire format. Missing values are null.
type communityPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Area        *string  `json:"area"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

// Receipt describes a relayed report.
type Receipt struct {
	Report    domain.CommunityReport // as sent, with any geocoded coordinates
	GeoSource domain.GeoSource
	Message   string
}

// Community relays user reports to the community automation webhook.
type Community struct {
	hook     webhook
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewCommunity creates a community relay. geocoder may be nil, in which case
// reports without coordinates are sent with null lat/lng.
func NewCommunity(url string, timeout time.Duration, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics) *Community {
	return &Community{
		hook:     newWebhook("community", url, timeout, metrics),
		geocoder: geocoder,
		logger:   logger,
	}
}

// Configured reports whether a webhook URL is set.
func (c *Community) Configured() bool { return c.hook.configured() }

// Submit geocodes the report's area when coordinates are missing, then posts
// it to the webhook. It does not retry.
func (c *Community) Submit(ctx context.Context, report domain.CommunityReport) (Receipt, error) {
	if !c.hook.configured() {
		return Receipt{}, ErrNotConfigured
	}

	report.Title = strings.TrimSpace(report.Title)
	report.Description = strings.TrimSpace(report.Description)
	report.Area = strings.TrimSpace(report.Area)

	located, source := domain.LocateReport(ctx, report, c.geocoder, c.logger)

	body, err := c.hook.post(ctx, toPayload(located))
	if err != nil {
		c.logger.Error("community report relay failed", "title", located.Title, "error", err)
		return Receipt{Report: located, GeoSource: source}, err
	}

	msg, ok := replyText(body, []string{"Response", "message", "reply", "text"})
	if !ok {
		msg = strings.TrimSpace(string(body))
		if msg == "" || looksStructured(msg) {
			msg = DefaultCommunityMessage
		}
	}

	c.logger.Info("community report relayed", "title", located.Title, "geo_source", source)
	return Receipt{Report: located, GeoSource: source, Message: msg}, nil
}

func toPayload(r domain.CommunityReport) communityPayload {
	p := communityPayload{Title: r.Title, Description: r.Description}
	if r.Area != "" {
		area := r.Area
		p.Area = &area
	}
	if r.HasLocation() {
		lat, lng := *r.Lat, *r.Lng
		p.Lat, p.Lng = &lat, &lng
	}
	return p
}

func looksStructured(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}
