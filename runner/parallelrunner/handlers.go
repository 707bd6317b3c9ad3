// handlers.go - HTTP Handler des Runner-Servers
//
// Dieses Modul enthaelt die Request-Handler:
// - generate: Handler fuer parallele Text-Generierung
// - tokenize: Handler fuer Tokenisierung
// - health: Handler fuer Gesundheits-Check
package parallelrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/localllm/localllm/api"
	"github.com/localllm/localllm/llm"
)

// paramsFromOptions uebersetzt API-Optionen in Engine-Parameter
func paramsFromOptions(opts api.Options) Params {
	return Params{
		NumPredict:    opts.NumPredict,
		TopK:          opts.TopK,
		TopP:          opts.TopP,
		MinP:          opts.MinP,
		Temperature:   opts.Temperature,
		RepeatLastN:   opts.RepeatLastN,
		RepeatPenalty: opts.RepeatPenalty,
		Seed:          opts.Seed,
	}
}

// generate verarbeitet parallele Generierungs-Anfragen
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req llm.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if len(req.Prompts) == 0 {
		http.Error(w, "no prompts provided", http.StatusBadRequest)
		return
	}

	if req.Options == nil {
		opts := api.DefaultOptions()
		req.Options = &opts
	}

	w.Header().Set("Content-Type", "application/json")

	// Anfrage-Zulassung begrenzen
	if err := s.reqSem.Acquire(r.Context(), 1); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("aborting generate request due to client closing the connection")
		} else {
			http.Error(w, fmt.Sprintf("Failed to acquire semaphore: %v", err), http.StatusInternalServerError)
		}
		return
	}
	defer s.reqSem.Release(1)

	// Der Kontext gehoert jeweils genau einem Top-Level-Aufruf
	s.genMu.Lock()
	start := time.Now()
	misses := s.engine.Metrics().DynamicCacheMiss.Load()
	results, err := s.engine.GenerateParallel(r.Context(), req.Prompts, paramsFromOptions(*req.Options))
	misses = s.engine.Metrics().DynamicCacheMiss.Load() - misses
	s.genMu.Unlock()

	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate: %v", err), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(&llm.GenerateResponse{
		Results:       results,
		CacheMisses:   misses,
		TotalDuration: time.Since(start),
	}); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

// tokenize verarbeitet Tokenisierungs-Anfragen
func (s *Server) tokenize(w http.ResponseWriter, r *http.Request) {
	var req llm.TokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %s", err), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	tokens, err := s.lc.Vocab().Tokenize(req.Content, true, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to tokenize: %v", err), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(&llm.TokenizeResponse{Tokens: tokens}); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

// health gibt den aktuellen Server-Status zurueck
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&llm.ServerStatusResponse{
		Status:   s.status,
		Progress: 1.0,
	}); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
