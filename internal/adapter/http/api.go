package http

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/compose"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/interaction"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
	"github.com/couchcryptid/city-pulse/internal/observability"
	"github.com/couchcryptid/city-pulse/internal/relay"
	"github.com/couchcryptid/city-pulse/internal/search"
)

// Integrations reports which optional integrations are configured.
type Integrations struct {
	Map            bool
	TrafficTiles   bool
	EvHubs         bool
	Chat           bool
	Community      bool
	BackendDriver  string
	RealtimeDriver string
	Center         orb.Point
}

// Deps wires a Handler. Geocoder is nil when the map token is missing.
type Deps struct {
	Aggregator   *aggregator.Aggregator
	Sessions     *mapstate.Sessions
	Geocoder     domain.Geocoder
	Community    *relay.Community
	Chat         *relay.Chat
	Integrations Integrations
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Handler serves the map API. Methods named Register* add routes.
type Handler struct {
	agg          *aggregator.Aggregator
	sessions     *mapstate.Sessions
	geocoder     domain.Geocoder
	community    *relay.Community
	chat         *relay.Chat
	integrations Integrations
	router       *interaction.Router
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics

	mu         sync.Mutex
	navigators map[string]*search.Navigator
}

// NewHandler creates a Handler and hooks session teardown so pending
// searches are cancelled when a session goes away.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		agg:          d.Aggregator,
		sessions:     d.Sessions,
		geocoder:     d.Geocoder,
		community:    d.Community,
		chat:         d.Chat,
		integrations: d.Integrations,
		clock:        d.Clock,
		logger:       d.Logger,
		metrics:      d.Metrics,
		navigators:   make(map[string]*search.Navigator),
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.router = interaction.NewRouter(h.clusterIndex, h.logger)
	h.sessions.OnClose(h.dropNavigator)
	return h
}

// Register adds every route to api.
func (h *Handler) Register(api huma.API) {
	h.RegisterConfig(api)
	h.RegisterSessions(api)
	h.RegisterLayers(api)
	h.RegisterRelays(api)
	h.RegisterEvents(api)
}

// RegisterConfig registers the integration status route.
func (h *Handler) RegisterConfig(api huma.API) {
	huma.Get(api, "/api/v1/config", h.GetConfig, huma.OperationTags("config"))
}

// RegisterLayers registers the layer registry and collection status routes.
func (h *Handler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/collections", h.GetCollections, huma.OperationTags("layers"))
}

type emptyInput struct{}

type ConfigBody struct {
	MapConfigured       bool       `json:"mapConfigured" doc:"Map token present; search and the map surface work"`
	TrafficTiles        bool       `json:"trafficTiles" doc:"Live traffic vector tiles are fetched"`
	EvHubsConfigured    bool       `json:"evHubsConfigured" doc:"OpenChargeMap key present"`
	ChatConfigured      bool       `json:"chatConfigured" doc:"Chat webhook set"`
	CommunityConfigured bool       `json:"communityConfigured" doc:"Community webhook set"`
	BackendDriver       string     `json:"backendDriver" example:"supabase"`
	RealtimeDriver      string     `json:"realtimeDriver" example:"supabase"`
	Center              [2]float64 `json:"center" doc:"Initial map center as [lng, lat]"`
	Messages            []string   `json:"messages" doc:"Human-readable notes on missing integrations"`
}

type ConfigOutput struct {
	Body ConfigBody
}

func (h *Handler) GetConfig(_ context.Context, _ *emptyInput) (*ConfigOutput, error) {
	in := h.integrations
	body := ConfigBody{
		MapConfigured:       in.Map,
		TrafficTiles:        in.TrafficTiles,
		EvHubsConfigured:    in.EvHubs,
		ChatConfigured:      in.Chat,
		CommunityConfigured: in.Community,
		BackendDriver:       in.BackendDriver,
		RealtimeDriver:      in.RealtimeDriver,
		Center:              [2]float64{in.Center.Lon(), in.Center.Lat()},
		Messages:            []string{},
	}
	if !in.Map {
		body.Messages = append(body.Messages, "Map not configured: set MAPBOX_TOKEN to enable the map and search.")
	}
	if !in.EvHubs {
		body.Messages = append(body.Messages, "EV hubs not configured: set OPENCHARGEMAP_KEY.")
	}
	if !in.Chat {
		body.Messages = append(body.Messages, "Chat not configured: set CHAT_WEBHOOK_URL.")
	}
	if !in.Community {
		body.Messages = append(body.Messages, "Community reports not configured: set COMMUNITY_WEBHOOK_URL.")
	}
	return &ConfigOutput{Body: body}, nil
}

type LayersBody struct {
	Layers      []mapstate.Layer     `json:"layers" doc:"Toggleable layers in display order"`
	Modes       []ModeBody           `json:"modes"`
	Definitions []compose.Definition `json:"definitions" doc:"How the map surface draws each source"`
}

type ModeBody struct {
	Mode     mapstate.Mode      `json:"mode"`
	Defaults []mapstate.LayerID `json:"defaults"`
}

type LayersOutput struct {
	Body LayersBody
}

func (h *Handler) GetLayers(_ context.Context, _ *emptyInput) (*LayersOutput, error) {
	modes := make([]ModeBody, 0, len(mapstate.Modes()))
	for _, m := range mapstate.Modes() {
		modes = append(modes, ModeBody{Mode: m, Defaults: mapstate.DefaultLayers(m).Sorted()})
	}
	return &LayersOutput{Body: LayersBody{
		Layers:      mapstate.Layers(),
		Modes:       modes,
		Definitions: compose.Definitions(),
	}}, nil
}

type CollectionStatus struct {
	Name aggregator.Name `json:"name"`
	aggregator.Status
}

type CollectionsOutput struct {
	Body struct {
		Collections []CollectionStatus `json:"collections"`
	}
}

func (h *Handler) GetCollections(_ context.Context, _ *emptyInput) (*CollectionsOutput, error) {
	out := &CollectionsOutput{}
	out.Body.Collections = collectionStatuses(h.agg.Statuses())
	return out, nil
}

func collectionStatuses(statuses map[aggregator.Name]aggregator.Status) []CollectionStatus {
	list := make([]CollectionStatus, 0, len(statuses))
	for name, st := range statuses {
		list = append(list, CollectionStatus{Name: name, Status: st})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (h *Handler) clusterIndex(layer mapstate.LayerID) interaction.Expander {
	if layer != mapstate.LayerIncidents {
		return nil
	}
	idx := h.agg.IncidentClusters()
	if idx == nil {
		return nil
	}
	return idx
}

// navigator returns the session's search navigator, creating it on first use.
// A closed store gets no navigator: its close hook may already have run.
func (h *Handler) navigator(id string, store *mapstate.Store) (*search.Navigator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.navigators[id]; ok {
		return n, nil
	}
	if _, err := store.State(); err != nil {
		return nil, err
	}
	n := search.NewNavigator(h.geocoder, h.metrics)
	h.navigators[id] = n
	return n, nil
}

func (h *Handler) dropNavigator(id string) {
	h.mu.Lock()
	n, ok := h.navigators[id]
	delete(h.navigators, id)
	h.mu.Unlock()
	if ok {
		n.Close()
	}
	if h.metrics != nil {
		h.metrics.SessionsActive.Set(float64(h.sessions.Len()))
	}
}
