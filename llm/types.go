// Package llm - Protokoll-Typen des Runner-Servers
//
// Definiert die Request/Response-Typen zwischen CLI/Clients und dem
// Runner-HTTP-Server:
// - GenerateRequest/GenerateResponse: parallele Text-Generierung
// - TokenizeRequest/TokenizeResponse: Tokenisierung
// - ServerStatus/ServerStatusResponse: Health-Checks
package llm

import (
	"time"

	"github.com/localllm/localllm/api"
)

// ServerStatus beschreibt den Zustand des Runner-Servers
type ServerStatus int

const (
	ServerStatusLaunched ServerStatus = iota
	ServerStatusLoadingModel
	ServerStatusReady
	ServerStatusError
)

func (s ServerStatus) String() string {
	switch s {
	case ServerStatusLaunched:
		return "llm server launched"
	case ServerStatusLoadingModel:
		return "llm server loading model"
	case ServerStatusReady:
		return "llm server ready"
	default:
		return "llm server error"
	}
}

// GenerateRequest ist eine Anfrage fuer parallele Generierung
type GenerateRequest struct {
	// Prompts in Aufrufer-Reihenfolge; die Antworten behalten diese
	// Reihenfolge bei
	Prompts []string `json:"prompts"`

	// Options; fehlende Optionen fallen auf api.DefaultOptions zurueck
	Options *api.Options `json:"options,omitempty"`
}

// GenerateResponse traegt die Ergebnisse einer parallelen Generierung.
// Einzelne Ergebnisse koennen Fehler-Marker der Form "[ERROR] ..." sein.
type GenerateResponse struct {
	Results []string `json:"results"`

	// CacheMisses zaehlt weiche Decode-Fehler waehrend des Aufrufs, die zu
	// einer Halbierung der Fenstergroesse gefuehrt haben
	CacheMisses int64 `json:"cache_misses,omitempty"`

	TotalDuration time.Duration `json:"total_duration,omitempty"`
}

// TokenizeRequest ist eine Tokenisierungs-Anfrage
type TokenizeRequest struct {
	Content string `json:"content"`
}

// TokenizeResponse traegt die Token-IDs
type TokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

// ServerStatusResponse ist die Antwort des Health-Handlers
type ServerStatusResponse struct {
	Status   ServerStatus `json:"status"`
	Progress float32      `json:"progress"`
}
