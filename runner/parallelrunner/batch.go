// batch.go - Batch-Treiber mit adaptiver Fenstergroesse
//
// submit laeuft in zusammenhaengenden Fenstern ueber einen Batch und
// reicht jedes Fenster an die Runtime weiter. Ein weicher Decode-Fehler
// halbiert die Fenstergroesse fuer den Rest der Uebergabe; erst wenn auch
// Fenstergroesse 1 abgelehnt wird, schlaegt die Uebergabe fehl.
package parallelrunner

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/localllm/localllm/ml"
)

// submit dekodiert batch fensterweise. onWindow wird nach jedem erfolgreich
// dekodierten Fenster [start, start+n) aufgerufen, solange die Logits der
// Runtime noch dieses Fenster betreffen.
//
// Rueckgabe ist der Startindex des fehlgeschlagenen Fensters und der Fehler;
// (-1, nil) bei Erfolg. Weiche Erschoepfung ist per errors.Is gegen
// ml.ErrNoKvSlot unterscheidbar, alles andere ist fatal.
func (e *Engine) submit(batch *ml.Batch, onWindow func(start, n int)) (int, error) {
	total := batch.NumTokens()
	if total == 0 {
		return -1, nil
	}

	tailCap := initialTailCap
	if nb := int(e.lc.NumBatch()); nb > 0 && nb < tailCap {
		tailCap = nb
	}

	for start := 0; start < total; {
		n := min(tailCap, total-start)

		err := e.lc.Decode(batch.Slice(start, n))
		switch {
		case err == nil:
			if onWindow != nil {
				onWindow(start, n)
			}
			start += n

		case errors.Is(err, ml.ErrNoKvSlot):
			if tailCap == 1 {
				return start, fmt.Errorf("kv cache exhausted at batch size 1: %w", err)
			}

			// Die Obergrenze bleibt fuer den Rest der Uebergabe halbiert
			tailCap = max(1, tailCap/2)
			e.metrics.DynamicCacheMiss.Add(1)
			slog.Debug("no kv slot for batch window, halving", "window", n, "tail_cap", tailCap)

		default:
			return start, fmt.Errorf("failed to decode batch: %w", err)
		}
	}

	return -1, nil
}
