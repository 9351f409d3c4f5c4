package fouille

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fouille/fouille/internal/memory"
	"github.com/hazyhaar/fouille/idgen"
	"github.com/hazyhaar/fouille/kit"
)

// RegisterMCP registers all fouille tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerSearch(srv)
	svc.registerFeedback(srv)
	svc.registerTrain(srv)
	svc.registerFeedbackStats(srv)
	svc.registerMemoryIngest(srv)
	svc.registerMemorySearch(srv)
	svc.registerMemoryRemove(srv)
	svc.registerSaveProposal(srv)
	svc.registerGetPreferences(srv)
	svc.registerUpdatePreferences(srv)
	svc.registerHistory(srv)
	svc.registerIngestDir(srv)
}

// addTool registers endpoint as an MCP tool behind request-ID and logging
// middleware.
func (svc *Service) addTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(
		kit.WithRequestID(idgen.Prefixed("mcp_", idgen.Default)),
		kit.WithLogging(svc.logger, tool.Name),
	)
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

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

// --- Search ---

func (svc *Service) registerSearch(srv *mcp.Server) {
	type req struct {
		Query        string `json:"query"`
		MaxResults   int    `json:"max_results"`
		Follow       bool   `json:"follow"`
		Personalize  *bool  `json:"personalize"`
		MaxPerDomain int    `json:"max_per_domain"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_search",
		Description: "Search all configured engines, optionally fetch result pages, and rank results for the user",
		InputSchema: inputSchema(map[string]any{
			"query":          map[string]any{"type": "string", "description": "Search query (at least 2 characters)"},
			"max_results":    map[string]any{"type": "integer", "description": "Maximum results (default 30, max 200)"},
			"follow":         map[string]any{"type": "boolean", "description": "Fetch each result page politely for title/snippet/extract"},
			"personalize":    map[string]any{"type": "boolean", "description": "Rerank with preferences and feedback (default true)"},
			"max_per_domain": map[string]any{"type": "integer", "description": "Page fetches per domain when following"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Search(ctx, SearchRequest{
			Query:        p.Query,
			MaxResults:   p.MaxResults,
			Follow:       p.Follow,
			Personalize:  p.Personalize,
			MaxPerDomain: p.MaxPerDomain,
		})
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

// --- Feedback ---

func (svc *Service) registerFeedback(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fouille_feedback",
		Description: "Record a like or dislike on a search result",
		InputSchema: inputSchema(map[string]any{
			"url":     map[string]any{"type": "string", "description": "Result URL"},
			"label":   map[string]any{"type": "string", "description": "like or dislike"},
			"title":   map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
			"query":   map[string]any{"type": "string", "description": "Query that produced the result"},
		}, []string{"url", "label"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.RecordFeedback(ctx, *r.(*FeedbackInput))
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[FeedbackInput]())
}

func (svc *Service) registerTrain(srv *mcp.Server) {
	type req struct {
		Limit  int `json:"limit"`
		Epochs int `json:"epochs"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_train",
		Description: "Retrain the preference model from recorded feedback",
		InputSchema: inputSchema(map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Max feedback records to read (0 = all)"},
			"epochs": map[string]any{"type": "integer", "description": "Training passes (default 2)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.TrainFromFeedback(ctx, p.Limit, p.Epochs), nil
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerFeedbackStats(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fouille_feedback_stats",
		Description: "Feedback totals and like ratio",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.FeedbackStats(ctx)
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}

// --- Memory ---

func (svc *Service) registerMemoryIngest(srv *mcp.Server) {
	type req struct {
		Items []memory.Input `json:"items"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_memory_ingest",
		Description: "Store texts in memory; long texts are chunked, duplicates skipped",
		InputSchema: inputSchema(map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
						"meta": map[string]any{"type": "object"},
					},
					"required": []string{"text"},
				},
			},
		}, []string{"items"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		n, err := svc.IngestText(ctx, r.(*req).Items)
		if err != nil {
			return nil, err
		}
		return map[string]int{"indexed": n}, nil
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerMemorySearch(srv *mcp.Server) {
	type req struct {
		Query  string         `json:"query"`
		TopK   int            `json:"top_k"`
		Filter map[string]any `json:"filter"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_memory_search",
		Description: "Find memory items similar to a query",
		InputSchema: inputSchema(map[string]any{
			"query":  map[string]any{"type": "string"},
			"top_k":  map[string]any{"type": "integer", "description": "Max hits (default 5)"},
			"filter": map[string]any{"type": "object", "description": "Meta key/values every hit must carry"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.SearchMemory(ctx, p.Query, p.TopK, p.Filter)
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerMemoryRemove(srv *mcp.Server) {
	type req struct {
		Filter map[string]any `json:"filter"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_memory_remove",
		Description: "Delete every memory item whose meta matches the filter",
		InputSchema: inputSchema(map[string]any{
			"filter": map[string]any{"type": "object"},
		}, []string{"filter"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		n, err := svc.RemoveMemory(ctx, r.(*req).Filter)
		if err != nil {
			return nil, err
		}
		return map[string]int{"removed": n}, nil
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerSaveProposal(srv *mcp.Server) {
	type req struct {
		Text      string `json:"text"`
		Objective string `json:"objective"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_save_proposal",
		Description: "Store a patch proposal in memory",
		InputSchema: inputSchema(map[string]any{
			"text":      map[string]any{"type": "string"},
			"objective": map[string]any{"type": "string"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.SaveProposal(ctx, p.Text, p.Objective)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.addTool(srv, tool, endpoint, decode)
}

// --- Preferences ---

func (svc *Service) registerGetPreferences(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fouille_get_preferences",
		Description: "Current ranking preferences",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.GetPreferences(ctx)
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}

func (svc *Service) registerUpdatePreferences(srv *mcp.Server) {
	list := map[string]any{
		"description": "List or comma-separated string",
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
	tool := &mcp.Tool{
		Name:        "fouille_update_preferences",
		Description: "Update ranking preferences; omitted fields are kept",
		InputSchema: inputSchema(map[string]any{
			"preferred_domains":  list,
			"blocked_domains":    list,
			"preferred_keywords": list,
			"blocked_keywords":   list,
			"like_weight":        map[string]any{"type": "number"},
			"dislike_weight":     map[string]any{"type": "number"},
			"domain_boost":       map[string]any{"type": "number"},
			"keyword_boost":      map[string]any{"type": "number"},
			"strict_block":       map[string]any{"type": "boolean", "description": "Hide disliked or blocked results instead of down-weighting"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.PatchPreferences(ctx, *r.(*PreferencesPatch))
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[PreferencesPatch]())
}

func (svc *Service) registerHistory(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "fouille_history",
		Description: "Recently served results, newest first",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.RecentHistory(ctx, r.(*req).Limit)
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

// --- Ingestion ---

func (svc *Service) registerIngestDir(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fouille_ingest_dir",
		Description: "Re-index the configured directory into memory",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.IngestDir(ctx)
	}

	svc.addTool(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}
