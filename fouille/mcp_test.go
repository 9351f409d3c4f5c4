package fouille

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "fouille-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_ToolsListed(t *testing.T) {
	// WHAT: every service operation is exposed as a tool.
	// WHY: assistants drive fouille through MCP.
	session := mcpSession(t, setupTestService(t, nil))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 12 {
		names := make([]string, len(res.Tools))
		for i, tl := range res.Tools {
			names[i] = tl.Name
		}
		t.Fatalf("got %d tools: %v", len(res.Tools), names)
	}
}

func TestMCP_SearchAndFeedback(t *testing.T) {
	// WHAT: search then feedback then stats over MCP.
	// WHY: the full assistant loop must work through the tool layer.
	session := mcpSession(t, setupTestService(t, nil))

	text, isErr := mcpCall(t, session, "fouille_search", map[string]any{"query": "golang", "personalize": false})
	if isErr {
		t.Fatalf("search tool error: %s", text)
	}
	var resp SearchResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Meta.Count != 3 {
		t.Fatalf("count = %d", resp.Meta.Count)
	}

	if text, isErr := mcpCall(t, session, "fouille_feedback", map[string]any{"url": resp.Results[0].URL, "label": "like"}); isErr {
		t.Fatalf("feedback tool error: %s", text)
	}
	text, _ = mcpCall(t, session, "fouille_feedback_stats", map[string]any{})
	var st struct {
		Total int `json:"total"`
		Likes int `json:"likes"`
	}
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.Likes != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMCP_InvalidInputIsToolError(t *testing.T) {
	// WHAT: validation failures come back as tool errors, not protocol errors.
	// WHY: clients show the message to the user and keep the session.
	session := mcpSession(t, setupTestService(t, nil))
	if _, isErr := mcpCall(t, session, "fouille_search", map[string]any{"query": "x"}); !isErr {
		t.Fatal("short query accepted")
	}
	if _, isErr := mcpCall(t, session, "fouille_memory_remove", map[string]any{"filter": map[string]any{}}); !isErr {
		t.Fatal("empty filter accepted")
	}
}

func TestMCP_Preferences(t *testing.T) {
	// WHAT: preferences update with a CSV list and read back.
	// WHY: MCP clients send comma-separated sets.
	session := mcpSession(t, setupTestService(t, nil))
	if text, isErr := mcpCall(t, session, "fouille_update_preferences", map[string]any{
		"blocked_domains": "Spam.example, ads.example",
		"strict_block":    true,
	}); isErr {
		t.Fatalf("update: %s", text)
	}
	text, _ := mcpCall(t, session, "fouille_get_preferences", map[string]any{})
	var p struct {
		BlockedDomains []string `json:"blocked_domains"`
		StrictBlock    bool     `json:"strict_block"`
		LikeWeight     float64  `json:"like_weight"`
	}
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		t.Fatal(err)
	}
	if len(p.BlockedDomains) != 2 || p.BlockedDomains[0] != "spam.example" || !p.StrictBlock || p.LikeWeight != 1 {
		t.Fatalf("prefs = %+v", p)
	}
}
