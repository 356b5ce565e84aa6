package gazette

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kozlony/kit"
)

// RegisterMCP registers the kozlony read tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	e := s.Endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kozlony_search",
		Description: "Full-text search over every stored gazette issue (case and accent insensitive, FTS5 syntax). Newest issues first.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "FTS5 query, e.g. \"adó\" OR árvíz*"},
			"limit": map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}, []string{"query"}),
	}, e.Search, kit.DecodeArgs[SearchRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kozlony_list_new",
		Description: "List gazette issues that have not been delivered to subscribers yet.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, e.ListNew, kit.DecodeArgs[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kozlony_get_document",
		Description: "Fetch one gazette issue with its extracted text by hash.",
		InputSchema: inputSchema(map[string]any{
			"hash": map[string]any{"type": "string", "description": "Document hash"},
		}, []string{"hash"}),
	}, e.Get, kit.DecodeArgs[HashRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kozlony_find_matches",
		Description: "Keyword-in-context windows for a keyword in one issue. Falls back to lemmatized text and marks such windows stemmed.",
		InputSchema: inputSchema(map[string]any{
			"hash":    map[string]any{"type": "string", "description": "Document hash"},
			"keyword": map[string]any{"type": "string", "description": "Keyword or phrase"},
		}, []string{"hash", "keyword"}),
	}, e.Matches, kit.DecodeArgs[MatchesRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kozlony_stats",
		Description: "Document counts (total, new, consumed, indexed), the latest issue date and the metrics of the last run.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, e.Stats, kit.DecodeArgs[struct{}]())
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
