package http

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/relay"
)

// RegisterRelays registers the community report and chat routes.
func (h *Handler) RegisterRelays(api huma.API) {
	huma.Post(api, "/api/v1/community-reports", h.SubmitCommunityReport, huma.OperationTags("relays"))
	huma.Post(api, "/api/v1/chat", h.Chat, huma.OperationTags("relays"))
}

type ReportBody struct {
	Title       string   `json:"title" minLength:"1" example:"Streetlight out"`
	Description string   `json:"description,omitempty"`
	Area        string   `json:"area,omitempty" example:"T. Nagar"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

type CommunityReportInput struct {
	Body ReportBody
}

type CommunityReportOutput struct {
	Body struct {
		Message   string           `json:"message" doc:"Reply from the automation webhook"`
		GeoSource domain.GeoSource `json:"geoSource" enum:"original,forward,reverse,failed"`
		Report    ReportBody       `json:"report" doc:"The report as relayed, with any geocoded coordinates"`
	}
}

type ChatInput struct {
	Body struct {
		Text string `json:"text" minLength:"1" example:"Any waterlogging near Adyar?"`
	}
}

type ChatOutput struct {
	Body struct {
		User  relay.Message `json:"user"`
		Reply relay.Message `json:"reply"`
	}
}

func (h *Handler) SubmitCommunityReport(ctx context.Context, in *CommunityReportInput) (*CommunityReportOutput, error) {
	receipt, err := h.community.Submit(ctx, domain.CommunityReport{
		Title:       in.Body.Title,
		Description: in.Body.Description,
		Area:        in.Body.Area,
		Lat:         in.Body.Lat,
		Lng:         in.Body.Lng,
	})
	var se *relay.StatusError
	switch {
	case errors.Is(err, relay.ErrNotConfigured):
		return nil, huma.Error503ServiceUnavailable("community webhook not configured")
	case errors.As(err, &se):
		return nil, huma.Error502BadGateway(se.Error())
	case err != nil:
		return nil, huma.Error502BadGateway("community webhook unreachable", err)
	}

	out := &CommunityReportOutput{}
	out.Body.Message = receipt.Message
	out.Body.GeoSource = receipt.GeoSource
	out.Body.Report = ReportBody{
		Title:       receipt.Report.Title,
		Description: receipt.Report.Description,
		Area:        receipt.Report.Area,
		Lat:         receipt.Report.Lat,
		Lng:         receipt.Report.Lng,
	}
	return out, nil
}

func (h *Handler) Chat(ctx context.Context, in *ChatInput) (*ChatOutput, error) {
	out := &ChatOutput{}
	out.Body.User = h.chat.UserMessage(in.Body.Text)
	out.Body.Reply = h.chat.Ask(ctx, in.Body.Text)
	return out, nil
}
