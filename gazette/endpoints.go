package gazette

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/kozlony/kit"
)

// SearchRequest is the input of the search endpoint.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// HashRequest addresses one document.
type HashRequest struct {
	Hash string `json:"hash"`
}

// MatchesRequest asks for keyword windows in one document.
type MatchesRequest struct {
	Hash    string `json:"hash"`
	Keyword string `json:"keyword"`
}

// Endpoints are the read operations shared by the HTTP API and MCP tools.
type Endpoints struct {
	Search  kit.Endpoint
	ListNew kit.Endpoint
	Get     kit.Endpoint
	Matches kit.Endpoint
	Stats   kit.Endpoint
}

// Endpoints builds the read endpoints, each wrapped with call logging.
func (s *Service) Endpoints() Endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(s.logger, name))(e)
	}
	return Endpoints{
		Search: wrap("search", func(ctx context.Context, req any) (any, error) {
			r := req.(SearchRequest)
			if strings.TrimSpace(r.Query) == "" {
				return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
			}
			return s.Search(ctx, r.Query, r.Limit)
		}),
		ListNew: wrap("list_new", func(ctx context.Context, _ any) (any, error) {
			return s.ListNew(ctx)
		}),
		Get: wrap("get", func(ctx context.Context, req any) (any, error) {
			r := req.(HashRequest)
			if strings.TrimSpace(r.Hash) == "" {
				return nil, fmt.Errorf("%w: hash is required", ErrInvalidArgument)
			}
			return s.Get(ctx, r.Hash)
		}),
		Matches: wrap("matches", func(ctx context.Context, req any) (any, error) {
			r := req.(MatchesRequest)
			return s.FindMatches(ctx, r.Hash, r.Keyword)
		}),
		Stats: wrap("stats", func(ctx context.Context, _ any) (any, error) {
			return s.Stats(ctx)
		}),
	}
}
