// engine.go - Top-Level-Ablauf der parallelen Generierung
//
// Dieses Modul enthaelt:
// - GenerateParallel: Tokenisierung, Praefix-Waermung, Hauptschleife
// - Generate: Ein-Prompt-Variante derselben Engine
// - run: kooperative Hauptschleife ueber die Slot-Tabelle
//
// Ablauf: Prompts tokenisieren, gemeinsamen Praefix einmal unter Sequenz 0
// dekodieren, Slots fuellen (Praefix-Kopie + Suffix-Decode), dann pro
// Iteration einen Batch mit einem Token je aktivem Slot dekodieren und in
// Slot-Reihenfolge samplen. Diese Reihenfolge macht einen Lauf mit festen
// Eingaben und nicht-negativem Seed bit-identisch reproduzierbar.
package parallelrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/localllm/localllm/ml"
)

// GenerateParallel generiert Antworten fuer alle Prompts. Der Ergebnis-
// Vektor hat immer die Laenge des Eingabe-Vektors und behaelt dessen
// Reihenfolge; einzelne Eintraege koennen Fehler-Marker der Form
// "[ERROR] ..." sein. Nur nicht behebbare Fehler brechen den Aufruf ab;
// auch dann ist der KV-Speicher danach leer.
func (e *Engine) GenerateParallel(ctx context.Context, prompts []string, params Params) ([]string, error) {
	if e == nil || e.lc == nil {
		return nil, errors.New("no inference context")
	}
	if len(prompts) == 0 {
		return nil, errors.New("no prompts provided")
	}

	vocab := e.lc.Vocab()
	mem := e.lc.Memory()

	// Tokenisierungs-Vorlauf: hier ist jeder Fehler fatal
	lists := make([][]int32, len(prompts))
	minLen := -1
	for i, p := range prompts {
		toks, err := vocab.Tokenize(p, true, true)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize prompt %d: %w", i, err)
		}
		lists[i] = toks
		if minLen < 0 || len(toks) < minLen {
			minLen = len(toks)
		}
	}

	// Das letzte Token jedes Prompts bleibt dem Generierungspfad
	// vorbehalten, der Praefix endet daher spaetestens bei minLen-1
	prefixLen := sharedPrefixLen(lists)
	if prefixLen > minLen-1 {
		prefixLen = minLen - 1
	}
	if prefixLen < 0 || e.disablePrefix {
		prefixLen = 0
	}

	mem.Clear()

	g := &generation{
		e:         e,
		lc:        e.lc,
		vocab:     vocab,
		mem:       mem,
		params:    params,
		sp:        samplingParams(params),
		lists:     lists,
		results:   make([]string, len(prompts)),
		prefixLen: prefixLen,
		stopSeqs:  e.stopSeqs,
	}

	for _, seq := range params.StopSequences {
		if len(seq) != stopWindow {
			return nil, fmt.Errorf("stop sequence must hold exactly %d tokens, got %d", stopWindow, len(seq))
		}
		g.stopSeqs = append(g.stopSeqs, [stopWindow]int32(seq))
	}

	// Gemeinsamen Praefix einmal unter der reservierten Sequenz waermen
	if prefixLen > 0 {
		var batch ml.Batch
		for i := range prefixLen {
			batch.Add(lists[0][i], int32(i), i == prefixLen-1, prefixSeq)
		}

		if _, err := e.submit(&batch, nil); err != nil {
			if !errors.Is(err, ml.ErrNoKvSlot) {
				mem.Clear()
				return nil, fmt.Errorf("parallel generation failed: %w", err)
			}

			// Selbst Fenstergroesse 1 kam nicht unter: ohne geteilten
			// Praefix weiterarbeiten
			slog.Warn("failed to warm shared prefix, continuing without prefix reuse", "prefix_len", prefixLen)
			mem.Clear()
			g.prefixLen = 0
		} else {
			g.prefixReady = true
		}
	}

	numSlots := e.lc.NumSeqMax() - 1
	if numSlots < 1 {
		numSlots = 1
	}
	if numSlots > len(prompts) {
		numSlots = len(prompts)
	}

	g.slots = make([]*slot, numSlots)
	g.queue = make([]int, len(prompts))
	for i := range g.queue {
		g.queue[i] = i
	}

	if params.ShowProgress {
		g.bar = newProgressBar(len(prompts))
	}

	if err := g.run(ctx); err != nil {
		g.releaseSlots()
		mem.Clear()
		g.bar.finish()
		return nil, fmt.Errorf("parallel generation failed: %w", err)
	}

	if g.prefixReady {
		mem.SeqRemove(prefixSeq, 0, -1)
	}
	g.bar.finish()

	return g.results, nil
}

// Generate ist die Ein-Prompt-Variante: dieselbe Engine mit einem Slot und
// degeneriertem Praefix-Schritt
func (e *Engine) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	results, err := e.GenerateParallel(ctx, []string{prompt}, params)
	if err != nil {
		return "", err
	}

	if msg, ok := strings.CutPrefix(results[0], "[ERROR] "); ok {
		return "", errors.New(msg)
	}

	return results[0], nil
}

// run ist die kooperative Hauptschleife: Slots nachfuellen, einen Batch mit
// einem Token je aktivem Slot zusammenstellen, fensterweise dekodieren und
// in Slot-Reihenfolge samplen
func (g *generation) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		g.topUp()

		var batch ml.Batch
		var scheduled []*slot
		for _, s := range g.slots {
			if s == nil {
				continue
			}

			if g.params.NumPredict >= 0 && s.nDecoded >= g.params.NumPredict {
				g.finalize(s)
				continue
			}

			s.iBatch = batch.NumTokens()
			batch.Add(s.sampled, s.nPast+int32(s.nDecoded), true, s.seqID())
			scheduled = append(scheduled, s)
		}

		if batch.NumTokens() == 0 {
			if len(g.queue) == 0 {
				return nil
			}
			continue
		}

		failedAt, err := g.e.submit(&batch, func(start, n int) {
			for _, s := range scheduled {
				if g.slots[s.id] != s {
					continue
				}
				if s.iBatch >= start && s.iBatch < start+n {
					g.sampleSlot(s, s.iBatch-start)
				}
			}
		})
		if err != nil {
			if !errors.Is(err, ml.ErrNoKvSlot) {
				return err
			}

			// Weiche Erschoepfung: nur die Slots des fehlgeschlagenen
			// Fensters scheitern, der Rest laeuft weiter
			for _, s := range scheduled {
				if g.slots[s.id] != s || s.iBatch < 0 {
					continue
				}
				if s.iBatch == failedAt {
					g.fail(s, "no kv slot available for decode")
				} else {
					s.iBatch = -1
				}
			}
		}
	}
}

// samplingParams uebersetzt Aufruf-Parameter in Runtime-Sampling-Parameter.
// Ein negativer Seed wird einmal pro Aufruf von der Uhr abgeleitet, damit
// alle Slots desselben Aufrufs denselben Seed sehen.
func samplingParams(params Params) ml.SamplingParams {
	seed := params.Seed
	if seed < 0 {
		seed = int(time.Now().UnixNano() & 0x7fffffff)
	}

	return ml.SamplingParams{
		TopK:          params.TopK,
		TopP:          params.TopP,
		MinP:          params.MinP,
		Temp:          params.Temperature,
		RepeatLastN:   params.RepeatLastN,
		PenaltyRepeat: params.RepeatPenalty,
		Seed:          uint32(seed),
		MinKeep:       1,
	}
}
