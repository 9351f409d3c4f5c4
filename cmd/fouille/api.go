package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fouille/fouille"
	"github.com/hazyhaar/fouille/shield"
)

// newRouter builds the JSON API. mcpSrv, when non-nil, is mounted at /mcp
// over streamable HTTP.
func newRouter(svc *fouille.Service, mcpSrv *mcp.Server, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"status": "ok", "engines": svc.Engines()})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			req := fouille.SearchRequest{
				Query:        q.Get("q"),
				MaxResults:   queryInt(r, "max_results", 0),
				Follow:       queryBool(r, "follow", false),
				MaxPerDomain: queryInt(r, "max_per_domain", 0),
			}
			if q.Has("personalize") {
				p := queryBool(r, "personalize", true)
				req.Personalize = &p
			}
			resp, err := svc.Search(r.Context(), req)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 200, resp)
		})

		r.Post("/feedback", func(w http.ResponseWriter, r *http.Request) {
			var req fouille.FeedbackInput
			if !decodeBody(w, r, &req) {
				return
			}
			rec, err := svc.RecordFeedback(r.Context(), req)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 201, rec)
		})

		r.Post("/feedback/train", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Limit  int `json:"limit"`
				Epochs int `json:"epochs"`
			}
			if r.ContentLength != 0 && !decodeBody(w, r, &req) {
				return
			}
			writeJSON(w, 200, svc.TrainFromFeedback(r.Context(), req.Limit, req.Epochs))
		})

		r.Get("/feedback/stats", func(w http.ResponseWriter, r *http.Request) {
			st, err := svc.FeedbackStats(r.Context())
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 200, st)
		})

		r.Get("/preferences", func(w http.ResponseWriter, r *http.Request) {
			p, err := svc.GetPreferences(r.Context())
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 200, p)
		})

		r.Put("/preferences", func(w http.ResponseWriter, r *http.Request) {
			var patch fouille.PreferencesPatch
			if !decodeBody(w, r, &patch) {
				return
			}
			p, err := svc.PatchPreferences(r.Context(), patch)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 200, p)
		})

		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			entries, err := svc.RecentHistory(r.Context(), queryInt(r, "limit", 50))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			if entries == nil {
				entries = []fouille.HistoryEntry{}
			}
			writeJSON(w, 200, entries)
		})

		r.Route("/memory", func(r chi.Router) {
			r.Post("/ingest", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Items []fouille.MemoryInput `json:"items"`
				}
				if !decodeBody(w, r, &req) {
					return
				}
				n, err := svc.IngestText(r.Context(), req.Items)
				if err != nil {
					writeServiceError(w, r, err)
					return
				}
				writeJSON(w, 200, map[string]int{"added": n})
			})

			r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Query  string         `json:"query"`
					TopK   int            `json:"top_k"`
					Filter map[string]any `json:"filter"`
				}
				if !decodeBody(w, r, &req) {
					return
				}
				hits, err := svc.SearchMemory(r.Context(), req.Query, req.TopK, req.Filter)
				if err != nil {
					writeServiceError(w, r, err)
					return
				}
				writeJSON(w, 200, hits)
			})

			r.Post("/remove", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Filter map[string]any `json:"filter"`
				}
				if !decodeBody(w, r, &req) {
					return
				}
				n, err := svc.RemoveMemory(r.Context(), req.Filter)
				if err != nil {
					writeServiceError(w, r, err)
					return
				}
				writeJSON(w, 200, map[string]int{"removed": n})
			})

			r.Post("/proposals", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Text      string `json:"text"`
					Objective string `json:"objective"`
				}
				if !decodeBody(w, r, &req) {
					return
				}
				it, err := svc.SaveProposal(r.Context(), req.Text, req.Objective)
				if err != nil {
					writeServiceError(w, r, err)
					return
				}
				writeJSON(w, 201, it)
			})
		})
	})

	if mcpSrv != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}
	return r
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeServiceError maps service errors to status codes. Only invalid input
// is the caller's fault.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fouille.ErrInvalidInput), errors.Is(err, fouille.ErrNoIngestRoot):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, fouille.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		shield.GetLogger(r.Context()).Error("api: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string, def bool) bool {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
