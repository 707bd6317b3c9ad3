// slot.go - Slot-Lebenszyklus
//
// Dieses Modul enthaelt die Slot-Uebergaenge eines Generierungsaufrufs:
// - assign: Leer -> Prompt-bereit -> Dekodierend (Praefix-Kopie + Suffix)
// - sampleSlot: ein Generierungsschritt inklusive Stop-Pruefung
// - finalize/fail: Terminal-Uebergaenge samt Ressourcen-Freigabe
package parallelrunner

import (
	"fmt"

	"github.com/localllm/localllm/ml"
)

// generation buendelt den Zustand eines Top-Level-Aufrufs
type generation struct {
	e      *Engine
	lc     ml.Context
	vocab  ml.Vocab
	mem    ml.Memory
	params Params
	sp     ml.SamplingParams

	// lists sind die tokenisierten Prompts in Aufrufer-Reihenfolge
	lists [][]int32

	// results sammelt Ergebnisse an den globalen Prompt-Indizes;
	// jeder Prompt-Index liegt zu jedem Zeitpunkt in genau einer von
	// queue, slots oder results
	results []string

	// prefixLen ist die effektive Laenge des gemeinsamen Praefix
	prefixLen int

	// prefixReady zeigt an, dass Sequenz 0 den Praefix haelt
	prefixReady bool

	// slots ist die feste Slot-Tabelle; nil = frei
	slots []*slot

	// queue haelt die noch nicht zugewiesenen Prompt-Indizes in Reihenfolge
	queue []int

	// stopSeqs ist die Stop-Tabelle inklusive Aufruf-Ergaenzungen
	stopSeqs [][stopWindow]int32

	bar *progressBar
}

// topUp fuellt freie Slots aus der Warteschlange. Ein abgelehnter Prompt
// hat sein Ergebnis bereits geschrieben; es wird mit dem naechsten Index
// weiterversucht.
func (g *generation) topUp() {
	for k := range g.slots {
		if g.slots[k] != nil {
			continue
		}

		for len(g.queue) > 0 {
			idx := g.queue[0]
			g.queue = g.queue[1:]

			if g.assign(k, idx) {
				break
			}
		}
	}
}

// assign versucht, Prompt idx in Slot k zu laden. Bei Ablehnung steht das
// Fehler-Ergebnis bereits an results[idx].
func (g *generation) assign(k, idx int) bool {
	reject := func(msg string) bool {
		g.results[idx] = "[ERROR] " + msg
		g.bar.tick()
		return false
	}

	toks := g.lists[idx]
	if len(toks) == 0 {
		return reject("no input provided")
	}

	if len(toks) > int(g.lc.NumCtx())-ctxHeadroom {
		return reject(fmt.Sprintf("the input length %d exceeds the context length %d", len(toks), g.lc.NumCtx()))
	}

	smp, err := g.lc.NewSampler(g.sp)
	if err != nil {
		return reject("failed to create sampler: " + err.Error())
	}

	// Prompt-Tokens in die Sampler-Historie uebernehmen, damit
	// Wiederholungs-Strafen den Prompt einbeziehen
	for _, t := range toks {
		smp.Accept(t, false)
	}

	prefixLen := 0
	if g.prefixReady {
		prefixLen = g.prefixLen
	}

	s := &slot{
		id:           k,
		globalIndex:  idx,
		fullTokens:   toks,
		prefixLen:    prefixLen,
		suffixTokens: toks[prefixLen : len(toks)-1],
		iBatch:       -1,
		sampler:      smp,
	}

	if prefixLen > 0 {
		// Gesamter Bereich von Sequenz 0; prefixLen entspricht immer der
		// Laenge des gewaermten Praefix
		g.mem.SeqCopy(prefixSeq, s.seqID(), -1, -1)
	}

	if len(s.suffixTokens) > 0 {
		var batch ml.Batch
		for j, t := range s.suffixTokens {
			batch.Add(t, int32(prefixLen+j), j == len(s.suffixTokens)-1, s.seqID())
		}

		if _, err := g.e.submit(&batch, nil); err != nil {
			g.mem.SeqRemove(s.seqID(), 0, -1)
			smp.Close()
			return reject("failed to decode prompt: " + err.Error())
		}
	}

	// Das letzte Prompt-Token laeuft als erstes durch den Generierungspfad
	s.nPast = int32(len(toks) - 1)
	s.sampled = toks[len(toks)-1]
	g.slots[k] = s

	return true
}

// sampleSlot zieht und akzeptiert ein Token fuer Slot s aus Zeile row des
// zuletzt dekodierten Fensters und wendet die Stop-Schichten an.
func (g *generation) sampleSlot(s *slot, row int) {
	t := s.sampler.Sample(g.lc, row)
	s.iBatch = -1
	if t < 0 {
		g.fail(s, "sampling failed")
		return
	}

	s.sampler.Accept(t, true)

	// Schicht 1: Einzel-Token-EOG; t wird nicht angehaengt
	if g.vocab.IsEOG(t) {
		g.finalize(s)
		return
	}

	s.recent = append(s.recent, t)
	if len(s.recent) > stopWindow {
		s.recent = s.recent[1:]
	}

	// Schicht 2: Mehr-Token-Stop-Sequenz; die sechs Tokens vor t werden
	// aus der Antwort zurueckgezogen, t selbst wird nicht angehaengt
	if matchesStop(s.recent, g.stopSeqs) {
		s.response = retractStopTail(s.response, s.recent, g.vocab)
		g.finalize(s)
		return
	}

	s.response = append(s.response, g.vocab.Piece(t)...)
	s.nDecoded++
	s.sampled = t

	if s.nDecoded >= 6 && hitsConversationMarker(s.response) {
		g.finalize(s)
	}
}

// finalize schliesst einen Slot erfolgreich ab und gibt ihn frei
func (g *generation) finalize(s *slot) {
	g.mem.SeqRemove(s.seqID(), 0, -1)
	s.sampler.Close()
	s.sampler = nil

	g.results[s.globalIndex] = cleanResponse(string(s.response))
	g.slots[s.id] = nil
	g.bar.tick()
}

// fail schliesst einen Slot mit Fehler-Ergebnis ab und gibt ihn frei
func (g *generation) fail(s *slot, msg string) {
	g.mem.SeqRemove(s.seqID(), 0, -1)
	if s.sampler != nil {
		s.sampler.Close()
		s.sampler = nil
	}

	g.results[s.globalIndex] = "[ERROR] " + msg
	g.slots[s.id] = nil
	g.bar.tick()
}

// releaseSlots gibt alle verbleibenden Slots ohne Ergebnis frei;
// nur fatale Pfade gelangen hierher
func (g *generation) releaseSlots() {
	for k, s := range g.slots {
		if s == nil {
			continue
		}
		if s.sampler != nil {
			s.sampler.Close()
			s.sampler = nil
		}
		g.slots[k] = nil
	}
}
