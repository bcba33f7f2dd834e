package domain

import (
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Severity grades incidents and civic issues.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityMinor    Severity = "Minor"
	SeverityMajor    Severity = "Major"
	SeverityCritical Severity = "Critical"
)

var severityColors = map[Severity]string{
	SeverityCritical: "#ef4444",
	SeverityMajor:    "#FF7F50",
	SeverityMinor:    "#FFD166",
	SeverityInfo:     "#3b82f6",
}

// Severities lists every grade, most severe first.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo}
}

// LookupSeverity matches a severity case-insensitively.
func LookupSeverity(s string) (Severity, bool) {
	for _, sev := range Severities() {
		if strings.EqualFold(strings.TrimSpace(s), string(sev)) {
			return sev, true
		}
	}
	return "", false
}

// ParseSeverity matches a severity case-insensitively. Unknown values are Info.
func ParseSeverity(s string) Severity {
	if sev, ok := LookupSeverity(s); ok {
		return sev
	}
	return SeverityInfo
}

// Color returns the marker color for the severity.
func (s Severity) Color() string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}

// FreshnessWindow is how long an incident is badged as fresh.
const FreshnessWindow = 10 * time.Minute

// Incident is a live report such as an accident or waterlogging.
type Incident struct {
	ID          string
	Type        string
	Severity    Severity
	Timestamp   time.Time
	Location    orb.Point
	Description string
	MediaURLs   []string
	Ward        string
}

func (i Incident) Identity() string { return i.ID }

// IsFresh reports whether the incident is younger than FreshnessWindow at now.
// It is evaluated per call and never stored.
func (i Incident) IsFresh(now time.Time) bool {
	return now.Sub(i.Timestamp) < FreshnessWindow
}

func (i Incident) Feature(now time.Time) (Feature, bool) {
	media := i.MediaURLs
	if media == nil {
		media = []string{}
	}
	return Feature{
		ID:       i.ID,
		Kind:     KindIncident,
		Geometry: i.Location,
		Attributes: map[string]any{
			"type":        i.Type,
			"severity":    string(i.Severity),
			"timestamp":   formatTime(i.Timestamp),
			"description": i.Description,
			"mediaUrls":   media,
			"ward":        i.Ward,
			"isFresh":     i.IsFresh(now),
			"color":       i.Severity.Color(),
		},
	}, true
}

// CivicCategory classifies a civic issue.
type CivicCategory string

const (
	CategoryPothole     CivicCategory = "Pothole"
	CategoryGarbage     CivicCategory = "Garbage"
	CategoryWater       CivicCategory = "Water"
	CategoryElectricity CivicCategory = "Electricity"
)

// CivicStatus tracks a civic issue through resolution.
type CivicStatus string

const (
	StatusReported   CivicStatus = "Reported"
	StatusInProgress CivicStatus = "In-Progress"
	StatusResolved   CivicStatus = "Resolved"
)

// ParseCivicCategory matches a category case-insensitively.
func ParseCivicCategory(s string) (CivicCategory, bool) {
	for _, c := range []CivicCategory{CategoryPothole, CategoryGarbage, CategoryWater, CategoryElectricity} {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, true
		}
	}
	return "", false
}

// ParseCivicStatus matches a status case-insensitively, accepting
// "in progress" and "in_progress" for In-Progress.
func ParseCivicStatus(s string) (CivicStatus, bool) {
	norm := strings.NewReplacer(" ", "-", "_", "-").Replace(strings.TrimSpace(s))
	for _, st := range []CivicStatus{StatusReported, StatusInProgress, StatusResolved} {
		if strings.EqualFold(norm, string(st)) {
			return st, true
		}
	}
	return "", false
}

// CivicIssue is a reported municipal problem.
type CivicIssue struct {
	ID          string
	Category    CivicCategory
	Status      CivicStatus
	Severity    Severity
	Location    orb.Point
	UpdatedAt   time.Time
	Description string
}

func (c CivicIssue) Identity() string { return c.ID }

func (c CivicIssue) Feature(_ time.Time) (Feature, bool) {
	return Feature{
		ID:       c.ID,
		Kind:     KindCivicIssue,
		Geometry: c.Location,
		Attributes: map[string]any{
			"category":    string(c.Category),
			"status":      string(c.Status),
			"severity":    string(c.Severity),
			"updatedAt":   formatTime(c.UpdatedAt),
			"description": c.Description,
			"color":       c.Severity.Color(),
		},
	}, true
}
