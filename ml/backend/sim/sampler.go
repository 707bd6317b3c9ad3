// sampler.go - Deterministischer Sampler der simulierten Runtime
//
// Der Sampler leitet das naechste Token aus dem Inhalts-Hash der
// Logits-Zeile ab. Bei Temperatur 0 ist das Ergebnis eine reine Funktion
// des Sequenz-Inhalts; bei Temperatur > 0 gehen Seed und die Laenge der
// Sampler-Historie ein. Beides ist unabhaengig davon, wie die Sequenzen
// ueber Batches verschraenkt wurden.
//
// Die Wiederholungs-Strafe ist als Kandidaten-Verschiebung modelliert:
// liegt der Basis-Kandidat im Strafen-Fenster der letzten RepeatLastN
// akzeptierten Tokens, rueckt der naechste freie Buchstabe nach.
package sim

import (
	"slices"

	"github.com/localllm/localllm/ml"
)

type sampler struct {
	c      *Context
	params ml.SamplingParams

	// recent ist das Strafen-Fenster: die letzten RepeatLastN
	// akzeptierten Tokens
	recent []int32

	// nAccepted zaehlt alle akzeptierten Tokens dieser Sequenz
	nAccepted int
}

// Sample zieht das naechste Token aus der Logits-Zeile idx.
// Rueckgabe -1 wenn die Zeile keine Logits traegt.
func (s *sampler) Sample(_ ml.Context, idx int) int32 {
	h, ok := s.c.rowHash(idx)
	if !ok {
		return -1
	}

	if t, forced := s.c.forced[h]; forced {
		return t
	}

	mix := h
	if s.params.Temp > 0 {
		mix = splitmix64(h ^ uint64(s.params.Seed)*0x9e3779b97f4a7c15 ^ uint64(s.nAccepted))
	}

	return pickCandidate(mix, s.recent, s.params.PenaltyRepeat)
}

// pickCandidate bildet mix auf ein Kleinbuchstaben-Token ab. Bei aktiver
// Wiederholungs-Strafe wird ein bestrafter Kandidat uebersprungen; sind
// alle 26 Buchstaben bestraft, bleibt der Basis-Kandidat.
// Kleinbuchstaben halten die Ausgabe druckbar und frei von Template-Markern.
func pickCandidate(mix uint64, recent []int32, penaltyRepeat float32) int32 {
	base := int32(mix % 26)
	if penaltyRepeat <= 1 {
		return byteBase + 'a' + base
	}

	for off := int32(0); off < 26; off++ {
		cand := byteBase + 'a' + (base+off)%26
		if !slices.Contains(recent, cand) {
			return cand
		}
	}

	return byteBase + 'a' + base
}

// Accept uebernimmt ein Token in die Sampler-Historie. Das Strafen-Fenster
// behaelt die letzten RepeatLastN Tokens; applyGrammar betrifft nur
// Grammatik-Sampler und hat hier keine Wirkung.
func (s *sampler) Accept(token int32, applyGrammar bool) {
	s.nAccepted++

	if s.params.RepeatLastN <= 0 {
		return
	}

	s.recent = append(s.recent, token)
	if n := len(s.recent) - s.params.RepeatLastN; n > 0 {
		s.recent = s.recent[n:]
	}
}

func (s *sampler) Close() {}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
