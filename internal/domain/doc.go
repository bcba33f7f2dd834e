// Package domain models the city-monitoring data that City Pulse renders as
// map layers.
//
// # Located Features
//
// Every upstream record becomes a [Feature]: an id, a [Kind], a geometry and
// a flat attribute map. Geometry is always one of [orb.Point],
// [orb.LineString] or [orb.Polygon]. Polygon rings are closed (first position
// equals last). Ids are unique within a collection but may repeat across
// kinds, since each kind is served as its own layer.
//
// # Upstream Data Conventions
//
// Locations arrive in several encodings, depending on which writer produced
// the row:
//
//	[80.27, 13.06]                                 bare position
//	{"type":"Point","coordinates":[80.27,13.06]}   GeoJSON geometry
//	{"coordinates":[...]} / {"polygon":[...]}      wrapper object
//	"[[[80.1,13.0],[80.2,13.0],...]]"              JSON-encoded string
//
// [NormalizeGeometry] accepts all of them and rejects anything that is not a
// well-formed geometry of the requested type. Rows that fail are dropped by
// the caller; they never abort the rest of a collection.
//
// Timestamps are RFC 3339 strings (Postgres timestamptz rendering). Fixture
// stores may already hand back [time.Time] values.
//
// # Derived Fields
//
// Fields that depend on the current time or on display policy are computed
// when a feature is built and never stored on the entity:
//
//   - isFresh: an incident younger than [FreshnessWindow].
//   - color: severity, mood, or congestion palette lookups.
//   - isApproximate: the geometry was synthesized (mood placeholder square,
//     event point near the city center) rather than supplied upstream.
//
// # Coordinate Order
//
// All positions are (longitude, latitude), matching GeoJSON and orb.
package domain
