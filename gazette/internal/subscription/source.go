package subscription

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/kozlony/gazette/internal/fetch"
)

// Source yields the current subscriptions. It is pulled once per run.
type Source interface {
	Subscriptions(ctx context.Context) ([]Subscription, error)
}

// Static is a fixed list, used by the CLI and tests.
type Static []Subscription

// Subscriptions returns a copy of the list.
func (s Static) Subscriptions(context.Context) ([]Subscription, error) {
	return append([]Subscription(nil), s...), nil
}

// HTTPSource reads subscriptions from the monitor backend:
//
//	GET {monitor_url}/api/events?uuid={uuid} -> {"data": [{"id","type","parameters"}]}
type HTTPSource struct {
	fetcher    *fetch.Fetcher
	monitorURL string
	uuid       string
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(f *fetch.Fetcher, monitorURL, uuid string) *HTTPSource {
	return &HTTPSource{
		fetcher:    f,
		monitorURL: strings.TrimRight(monitorURL, "/"),
		uuid:       uuid,
	}
}

type eventsResponse struct {
	Data []Subscription `json:"data"`
}

// Subscriptions fetches the event list. Records are returned as sent; the
// dispatcher normalizes and skips invalid ones.
func (h *HTTPSource) Subscriptions(ctx context.Context) ([]Subscription, error) {
	u := h.monitorURL + "/api/events?" + url.Values{"uuid": {h.uuid}}.Encode()
	var resp eventsResponse
	if err := h.fetcher.GetJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	return resp.Data, nil
}
