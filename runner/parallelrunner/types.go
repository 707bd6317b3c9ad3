// Package parallelrunner - Paralleler Generierungs-Scheduler
//
// Dieses Modul definiert die Kerntypen des Schedulers:
// - Params: Parameter eines Top-Level-Generierungsaufrufs
// - slot: Zustand eines gleichzeitig laufenden Sequenz-Slots
// - Engine: Scheduler ueber einem Inferenz-Kontext
// - Metrics: Beobachtbarkeits-Zaehler
package parallelrunner

import (
	"sync/atomic"

	"github.com/localllm/localllm/ml"
)

const (
	// stopWindow ist die Fenstergroesse der Mehr-Token-Stop-Erkennung
	stopWindow = 7

	// ctxHeadroom haelt Positionen fuer das Sampling-Wachstum frei;
	// Prompts oberhalb von NumCtx-ctxHeadroom werden abgewiesen
	ctxHeadroom = 64

	// initialTailCap ist die Obergrenze der Fenstergroesse zu Beginn
	// jeder Batch-Uebergabe
	initialTailCap = 512
)

// prefixSeq ist die fuer den gemeinsamen Praefix reservierte Sequenz-ID.
// Slot k besitzt fuer die Dauer eines Aufrufs die Sequenz-ID k+1.
const prefixSeq = 0

// Params parametrisieren einen Generierungsaufruf
type Params struct {
	// NumPredict ist die maximale Anzahl zu generierender Tokens pro
	// Prompt. Negativ bedeutet unbegrenzt, 0 erzeugt leere Antworten.
	NumPredict int

	TopK          int
	TopP          float32
	MinP          float32
	Temperature   float32
	RepeatLastN   int
	RepeatPenalty float32

	// Seed steuert das Sampling. Negativ bedeutet: von der Uhr ableiten.
	Seed int

	// ShowProgress rendert einen Fortschrittsbalken auf stderr
	ShowProgress bool

	// StopSequences ergaenzt die eingebaute Tabelle der Mehr-Token-
	// Stop-Sequenzen. Jeder Eintrag muss genau stopWindow Tokens lang sein.
	StopSequences [][]int32
}

// slot ist der Zustand eines Sequenz-Slots fuer die Dauer eines Aufrufs
type slot struct {
	// id ist der Slot-Index; die Sequenz-ID ist id+1
	id int

	// globalIndex ist der Index des Prompts im Eingabe-Vektor
	globalIndex int

	// fullTokens ist der vollstaendig tokenisierte Prompt
	fullTokens []int32

	// prefixLen ist die Anzahl der aus dem gemeinsamen Praefix
	// uebernommenen Tokens
	prefixLen int

	// suffixTokens ist der Prompt-Rest zwischen Praefix und letztem Token;
	// das letzte Prompt-Token laeuft als erstes "sampled" durch den
	// Generierungspfad
	suffixTokens []int32

	// nPast zaehlt die bereits dekodierten Prompt-Positionen dieser Sequenz
	nPast int32

	// nDecoded zaehlt die bisher generierten Tokens
	nDecoded int

	// iBatch ist die Zeile des Slots im laufenden Batch, -1 ohne Zeile
	iBatch int

	// sampled ist das zuletzt akzeptierte Token
	sampled int32

	// sampler gehoert dem Slot und wird in allen Terminal-Uebergaengen
	// freigegeben
	sampler ml.Sampler

	// response ist der akkumulierte Antwort-Text
	response []byte

	// recent haelt die letzten stopWindow akzeptierten Tokens,
	// das neueste zuletzt
	recent []int32
}

func (s *slot) seqID() int {
	return s.id + 1
}

// Metrics sammelt Beobachtbarkeits-Zaehler des Schedulers
type Metrics struct {
	// DynamicCacheMiss zaehlt weiche Decode-Fehler, die zu einer
	// Halbierung der Fenstergroesse gefuehrt haben
	DynamicCacheMiss atomic.Int64
}

// Engine ist der parallele Generierungs-Scheduler ueber einem Kontext.
// Ein Engine-Wert darf nicht von mehreren Top-Level-Aufrufen gleichzeitig
// verwendet werden; der Kontext gehoert fuer die Dauer eines Aufrufs
// exklusiv der Engine.
type Engine struct {
	lc ml.Context

	// stopSeqs ist die Tabelle der Mehr-Token-Stop-Sequenzen
	stopSeqs [][stopWindow]int32

	// disablePrefix erzwingt prefixLen 0; Praefix-Teilung ist eine reine
	// Optimierung und darf das Ergebnis nie aendern
	disablePrefix bool

	metrics Metrics
}

// NewEngine erstellt eine Engine ueber dem gegebenen Kontext
func NewEngine(lc ml.Context) *Engine {
	return &Engine{lc: lc, stopSeqs: defaultStopSequences}
}

// Metrics gibt die Zaehler der Engine zurueck
func (e *Engine) Metrics() *Metrics {
	return &e.metrics
}
