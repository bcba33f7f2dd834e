package domain

import (
	"context"
	"log/slog"
)

// GeoSource records how a report's location fields were obtained.
type GeoSource string

const (
	GeoSourceOriginal GeoSource = "original"
	GeoSourceForward  GeoSource = "forward"
	GeoSourceReverse  GeoSource = "reverse"
	GeoSourceFailed   GeoSource = "failed"
)

// LocateReport fills missing coordinates by forward geocoding the report's
// area, calling the geocoder at most once. Reports that already carry both
// coordinates, or that have no area, are returned untouched. On failure or no
// match the report keeps its missing coordinates (graceful degradation).
func LocateReport(ctx context.Context, report CommunityReport, geocoder Geocoder, logger *slog.Logger) (CommunityReport, GeoSource) {
	if report.HasLocation() || report.Area == "" || geocoder == nil {
		return report, GeoSourceOriginal
	}

	result, err := geocoder.ForwardGeocode(ctx, report.Area)
	if err != nil {
		logger.Warn("forward geocoding failed",
			"area", report.Area,
			"error", err,
		)
		return report, GeoSourceFailed
	}
	if !result.Found() {
		logger.Info("no geocoding match for area", "area", report.Area)
		return report, GeoSourceOriginal
	}

	lat, lng := result.Lat, result.Lon
	report.Lat = &lat
	report.Lng = &lng
	return report, GeoSourceForward
}

// EnrichReportArea names the area of a located report whose area is empty,
// using reverse geocoding. Failures leave the report unchanged.
func EnrichReportArea(ctx context.Context, report CommunityReport, geocoder Geocoder, logger *slog.Logger) (CommunityReport, GeoSource) {
	if geocoder == nil || report.Area != "" || !report.HasLocation() {
		return report, GeoSourceOriginal
	}

	result, err := geocoder.ReverseGeocode(ctx, *report.Lat, *report.Lng)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"report_id", report.ID,
			"lat", *report.Lat,
			"lon", *report.Lng,
			"error", err,
		)
		return report, GeoSourceFailed
	}
	if result.PlaceName == "" {
		return report, GeoSourceOriginal
	}
	report.Area = result.PlaceName
	return report, GeoSourceReverse
}
