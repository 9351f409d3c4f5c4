// CLAUDE:SUMMARY JSON search-API caller: env-expanded headers, dot-path result walker, dot-path field mapping into title/snippet/url.
// Package apifetch calls a JSON search API and extracts its hits.
//
// Headers support ${ENV_VAR} expansion so API keys stay out of config
// files. Both the result array and each mapped field are located by
// dot-notation paths ("web.results", "meta.url").
package apifetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/hazyhaar/fouille/horosafe"
)

// Config describes how to call and parse a JSON API.
type Config struct {
	Method     string            `yaml:"method" json:"method"`           // default GET
	Headers    map[string]string `yaml:"headers" json:"headers"`         // ${ENV_VAR} expanded
	ResultPath string            `yaml:"result_path" json:"result_path"` // "data.results"; empty = root array
	// Fields maps title/snippet/url to dot paths inside one item.
	// Missing keys default to the key name itself.
	Fields map[string]string `yaml:"fields" json:"fields"`
}

// Result is one extracted item from an API response.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Fetch calls the API at rawURL, walks ResultPath and maps each object item
// into a Result. Non-object items are skipped.
func Fetch(ctx context.Context, client *http.Client, rawURL string, cfg Config) ([]Result, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("apifetch: new request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, os.Expand(v, os.Getenv))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apifetch: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("apifetch: http %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, 10<<20)
	if err != nil {
		return nil, fmt.Errorf("apifetch: read body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("apifetch: json decode: %w", err)
	}

	items, err := walkArray(raw, cfg.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("apifetch: walk path %q: %w", cfg.ResultPath, err)
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		results = append(results, Result{
			Title:   fieldString(obj, cfg.Fields, "title"),
			Snippet: fieldString(obj, cfg.Fields, "snippet"),
			URL:     fieldString(obj, cfg.Fields, "url"),
		})
	}
	return results, nil
}

// walkArray resolves path and requires an array there. An absent path
// yields no items rather than an error: APIs omit the key on zero hits.
func walkArray(v any, path string) ([]any, error) {
	current := v
	if path != "" {
		var ok bool
		current, ok = lookup(v, path)
		if !ok {
			return nil, nil
		}
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", current)
	}
	return arr, nil
}

// lookup walks a dot-notation path through nested objects.
func lookup(v any, path string) (any, bool) {
	current := v
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func fieldString(obj map[string]any, fields map[string]string, key string) string {
	path := key
	if p, ok := fields[key]; ok && p != "" {
		path = p
	}
	v, ok := lookup(obj, path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
