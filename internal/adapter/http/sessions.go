package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/city-pulse/internal/compose"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/interaction"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
	"github.com/couchcryptid/city-pulse/internal/search"
)

// RegisterSessions registers the per-client map state routes.
func (h *Handler) RegisterSessions(api huma.API) {
	huma.Post(api, "/api/v1/sessions", h.CreateSession, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))
	huma.Put(api, "/api/v1/sessions/{id}/mode", h.SetMode, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/layers/{layer}/toggle", h.ToggleLayer, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/severities/{severity}/toggle", h.ToggleSeverity, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}/layers", h.GetSessionLayers, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/click", h.Click, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/search", h.Search, huma.OperationTags("sessions"))
}

type SessionBody struct {
	ID            string              `json:"id" doc:"Session ID"`
	Mode          mapstate.Mode       `json:"mode" example:"Live"`
	Overridden    bool                `json:"overridden" doc:"The user toggled layers since entering the mode"`
	ActiveLayers  []mapstate.LayerID  `json:"activeLayers"`
	VisibleLayers []mapstate.LayerID  `json:"visibleLayers" doc:"Active layers plus the ones the mode pins"`
	Selection     *mapstate.Selection `json:"selection,omitempty"`

	// Incident severities filtered out of the incidents layer.
	HiddenSeverities []domain.Severity `json:"hiddenSeverities"`
}

type SessionOutput struct {
	Body SessionBody
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type ModeInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		Mode string `json:"mode" doc:"Live, Events, Mood, EVHubs or Community" example:"Mood"`
	}
}

type ToggleInput struct {
	ID    string `path:"id" doc:"Session ID"`
	Layer string `path:"layer" doc:"Layer ID" example:"incidents"`
}

type SeverityToggleInput struct {
	ID       string `path:"id" doc:"Session ID"`
	Severity string `path:"severity" doc:"Critical, Major, Minor or Info" example:"Minor"`
}

type SessionLayersInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Zoom int    `query:"zoom" default:"-1" doc:"Map zoom; when set, incidents are returned clustered"`
}

type SessionLayersOutput struct {
	Body struct {
		Layers map[string]*geojson.FeatureCollection `json:"layers"`
	}
}

type HitBody struct {
	Layer      string         `json:"layer" example:"incidents"`
	Geometry   map[string]any `json:"geometry,omitempty" doc:"GeoJSON geometry of the rendered feature"`
	Properties map[string]any `json:"properties,omitempty"`
}

type ClickInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		Hits []HitBody `json:"hits" doc:"Rendered features under the click, topmost first"`
	}
}

type CameraBody struct {
	Center     [2]float64 `json:"center" doc:"[lng, lat]"`
	Zoom       float64    `json:"zoom"`
	DurationMs int64      `json:"durationMs,omitempty"`
	Place      string     `json:"place,omitempty"`
}

type ClickOutput struct {
	Body struct {
		Action    string      `json:"action" enum:"expand-cluster,show-detail,clear-selection,noop"`
		ClusterID *int        `json:"clusterId,omitempty"`
		Camera    *CameraBody `json:"camera,omitempty"`
		Session   SessionBody `json:"session"`
	}
}

type SearchInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		Query string `json:"query" example:"Marina Beach"`
	}
}

type SearchOutput struct {
	Status int
	Body   *CameraBody
}

func (h *Handler) CreateSession(_ context.Context, _ *emptyInput) (*SessionOutput, error) {
	id, store := h.sessions.Create()
	if h.metrics != nil {
		h.metrics.SessionsActive.Set(float64(h.sessions.Len()))
	}
	st, err := store.State()
	if err != nil {
		return nil, sessionError(err)
	}
	h.logger.Debug("session created", "session", id)
	return &SessionOutput{Body: h.sessionBody(id, st)}, nil
}

func (h *Handler) GetSession(_ context.Context, in *SessionInput) (*SessionOutput, error) {
	store, err := h.store(in.ID)
	if err != nil {
		return nil, err
	}
	st, err := store.State()
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionBody(in.ID, st)}, nil
}

func (h *Handler) DeleteSession(_ context.Context, in *SessionInput) (*struct{}, error) {
	if !h.sessions.Delete(in.ID) {
		return nil, huma.Error404NotFound("session not found")
	}
	h.logger.Debug("session closed", "session", in.ID)
	return nil, nil
}

func (h *Handler) SetMode(_ context.Context, in *ModeInput) (*SessionOutput, error) {
	mode, err := mapstate.ParseMode(in.Body.Mode)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return h.dispatch(in.ID, mapstate.SetMode{Mode: mode})
}

func (h *Handler) ToggleLayer(_ context.Context, in *ToggleInput) (*SessionOutput, error) {
	layer, err := mapstate.ParseLayer(in.Layer)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.dispatch(in.ID, mapstate.ToggleLayer{Layer: layer})
}

func (h *Handler) ToggleSeverity(_ context.Context, in *SeverityToggleInput) (*SessionOutput, error) {
	sev, ok := domain.LookupSeverity(in.Severity)
	if !ok {
		return nil, huma.Error404NotFound("unknown severity " + strconv.Quote(in.Severity))
	}
	return h.dispatch(in.ID, mapstate.ToggleSeverity{Severity: sev})
}

func (h *Handler) GetSessionLayers(_ context.Context, in *SessionLayersInput) (*SessionLayersOutput, error) {
	store, err := h.store(in.ID)
	if err != nil {
		return nil, err
	}
	st, err := store.State()
	if err != nil {
		return nil, sessionError(err)
	}

	ds := h.agg.Snapshot()
	now := h.clock.Now()
	layers := compose.Layers(ds, st, now)
	if in.Zoom >= 0 {
		idx := compose.IncidentIndex(ds, st, h.agg.IncidentClusters(), now)
		compose.ClusterIncidents(layers, idx, in.Zoom, ds, now)
	}

	out := &SessionLayersOutput{}
	out.Body.Layers = make(map[string]*geojson.FeatureCollection, len(layers))
	for id, fc := range layers {
		out.Body.Layers[string(id)] = fc
	}
	return out, nil
}

func (h *Handler) Click(ctx context.Context, in *ClickInput) (*ClickOutput, error) {
	store, err := h.store(in.ID)
	if err != nil {
		return nil, err
	}

	hits := make([]interaction.RenderedFeature, 0, len(in.Body.Hits))
	for _, hit := range in.Body.Hits {
		hits = append(hits, interaction.RenderedFeature{
			Layer:      mapstate.LayerID(hit.Layer),
			Geometry:   decodeGeometry(hit.Geometry),
			Properties: hit.Properties,
		})
	}

	action := h.router.Resolve(ctx, hits)

	var st mapstate.State
	out := &ClickOutput{}
	out.Body.Action = action.ActionName()
	switch a := action.(type) {
	case interaction.ShowDetail:
		st, err = store.Dispatch(mapstate.SelectFeature{Selection: mapstate.Selection{
			Layer:      a.Layer,
			Kind:       string(a.Kind),
			ID:         a.ID,
			Attributes: a.Attributes,
		}})
	case interaction.ClearSelection:
		st, err = store.Dispatch(mapstate.ClearSelection{})
	case interaction.ExpandCluster:
		id := a.ClusterID
		out.Body.ClusterID = &id
		out.Body.Camera = &CameraBody{Center: [2]float64{a.Center.Lon(), a.Center.Lat()}, Zoom: float64(a.Zoom)}
		st, err = store.State()
	default:
		st, err = store.State()
	}
	if err != nil {
		return nil, sessionError(err)
	}
	out.Body.Session = h.sessionBody(in.ID, st)
	return out, nil
}

func (h *Handler) Search(ctx context.Context, in *SearchInput) (*SearchOutput, error) {
	store, err := h.store(in.ID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Body.Query) == "" {
		return &SearchOutput{Status: http.StatusNoContent}, nil
	}
	if h.geocoder == nil {
		return nil, huma.Error503ServiceUnavailable("map not configured")
	}

	nav, err := h.navigator(in.ID, store)
	if err != nil {
		return nil, sessionError(err)
	}
	cmd, err := nav.Search(ctx, in.Body.Query)
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return &SearchOutput{Status: http.StatusNoContent}, nil
	case errors.Is(err, search.ErrNoResults):
		return nil, huma.Error404NotFound("No results found")
	case errors.Is(err, search.ErrSuperseded):
		return nil, huma.Error409Conflict(err.Error())
	case err != nil:
		h.logger.Warn("search failed", "session", in.ID, "error", err)
		return nil, huma.Error502BadGateway("search failed", err)
	}

	// The session may have closed while the geocoder was working.
	if _, err := store.State(); err != nil {
		return nil, sessionError(err)
	}
	return &SearchOutput{
		Status: http.StatusOK,
		Body: &CameraBody{
			Center:     [2]float64{cmd.Center.Lon(), cmd.Center.Lat()},
			Zoom:       cmd.Zoom,
			DurationMs: cmd.Duration.Milliseconds(),
			Place:      cmd.Place,
		},
	}, nil
}

func (h *Handler) store(id string) (*mapstate.Store, error) {
	store, ok := h.sessions.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("session not found")
	}
	return store, nil
}

func (h *Handler) dispatch(id string, a mapstate.Action) (*SessionOutput, error) {
	store, err := h.store(id)
	if err != nil {
		return nil, err
	}
	st, err := store.Dispatch(a)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionBody(id, st)}, nil
}

func (h *Handler) sessionBody(id string, st mapstate.State) SessionBody {
	return SessionBody{
		ID:            id,
		Mode:          st.Mode,
		Overridden:    st.Overrides != nil,
		ActiveLayers:  st.ActiveLayers().Sorted(),
		VisibleLayers: st.VisibleLayers(compose.HasData(h.agg.Snapshot())).Sorted(),
		Selection:     st.Selection,

		HiddenSeverities: hiddenSeverities(st),
	}
}

func hiddenSeverities(st mapstate.State) []domain.Severity {
	if st.HiddenSeverities == nil {
		return []domain.Severity{}
	}
	return st.HiddenSeverities
}

func sessionError(err error) error {
	if errors.Is(err, mapstate.ErrClosed) {
		return huma.Error404NotFound("session closed")
	}
	return huma.Error400BadRequest(err.Error())
}

// decodeGeometry reads a GeoJSON geometry object. Anything unreadable is
// nil, which the router treats as a click on nothing it can resolve.
func decodeGeometry(m map[string]any) orb.Geometry {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil || g.Coordinates == nil {
		return nil
	}
	return g.Coordinates
}
