package http

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"
)

// RegisterEvents registers the collection change stream.
func (h *Handler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("events"))
}

// Events streams collection changes as Datastar SSE. Every change dispatches
// a collection-changed event and re-patches the collections signal; the
// current statuses are sent once on connect.
func (h *Handler) Events(ctx context.Context, _ *emptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			r, w := humago.Unwrap(humaCtx)
			sse := datastar.NewSSE(w, r)

			bus := h.agg.Changes()
			ch := bus.Subscribe()
			defer bus.Unsubscribe(ch)

			if err := h.patchCollections(sse); err != nil {
				return
			}

			for {
				select {
				case <-ctx.Done():
					return
				case <-r.Context().Done():
					return
				case change, ok := <-ch:
					if !ok {
						return
					}
					err := sse.DispatchCustomEvent("collection-changed", map[string]any{
						"collection": change.Collection,
						"action":     change.Action,
						"id":         change.ID,
					})
					if err != nil {
						h.logger.Debug("event stream closed", "error", err)
						return
					}
					if err := h.patchCollections(sse); err != nil {
						return
					}
				}
			}
		},
	}, nil
}

func (h *Handler) patchCollections(sse *datastar.ServerSentEventGenerator) error {
	return sse.MarshalAndPatchSignals(map[string]any{
		"collections": collectionStatuses(h.agg.Statuses()),
	})
}
