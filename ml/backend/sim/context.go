// context.go - Simulierter Inferenz-Kontext
//
// Dieses Modul enthaelt:
// - Context: KV-Belegung, Decode-Statuscodes, Logits-Zeilen
// - Fehler-Injektion fuer Scheduler-Tests (weiche und fatale Decode-Fehler)
// - Force: erzwungene Fortsetzungen fuer geskriptete Szenarien
//
// Decode berechnet fuer jede Logits-Zeile einen Hash ueber den Token-Inhalt
// der besitzenden Sequenz. Der Sampler leitet daraus deterministisch das
// naechste Token ab; damit haengt die Fortsetzung nur vom Sequenz-Inhalt ab,
// nie von der Verschraenkung mit anderen Sequenzen.
package sim

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/localllm/localllm/ml"
)

// Context ist ein simulierter Inferenz-Kontext
type Context struct {
	params ml.ContextParams
	vocab  *Vocab
	mem    *Memory

	// rowHashes haelt pro Zeile des zuletzt dekodierten Fensters den
	// Inhalts-Hash der besitzenden Sequenz (0 ohne Logits-Flag)
	rowHashes []uint64

	// forced bildet Inhalts-Hash auf ein erzwungenes naechstes Token ab
	forced map[uint64]int32

	// rejectOver laesst Decode Batches mit mehr Tokens weich ablehnen
	rejectOver int

	// rejectNext zaehlt ausstehende pauschale weiche Ablehnungen
	rejectNext int

	// failDecode laesst den naechsten Decode fatal fehlschlagen
	failDecode error
}

func (c *Context) NumCtx() int32   { return int32(c.params.NumCtx) }
func (c *Context) NumBatch() int32 { return int32(c.params.BatchSize) }
func (c *Context) NumSeqMax() int  { return c.params.NumSeqMax }

func (c *Context) Vocab() ml.Vocab { return c.vocab }

func (c *Context) Memory() ml.Memory { return c.mem }

// Mem gibt den konkreten Speicher fuer Inspektion in Tests zurueck
func (c *Context) Mem() *Memory { return c.mem }

func (c *Context) Close() {
	c.mem.Clear()
}

// RejectBatchesOver laesst Decode jeden Batch mit mehr als n Tokens mit
// ml.ErrNoKvSlot ablehnen. n = 0 hebt die Begrenzung auf.
func (c *Context) RejectBatchesOver(n int) {
	c.rejectOver = n
}

// RejectNext laesst die naechsten n Decode-Aufrufe weich fehlschlagen
func (c *Context) RejectNext(n int) {
	c.rejectNext = n
}

// FailNextDecode laesst den naechsten Decode-Aufruf fatal fehlschlagen
func (c *Context) FailNextDecode(err error) {
	c.failDecode = err
}

// Force erzwingt next als Fortsetzung einer Sequenz mit genau diesem
// Token-Inhalt. Ketten von Force-Aufrufen skripten ganze Fortsetzungen.
func (c *Context) Force(history []int32, next int32) {
	c.forced[hashTokens(history)] = next
}

// Decode verarbeitet ein Batch-Fenster gemaess dem Runtime-Kontrakt:
// nil = Erfolg, ml.ErrNoKvSlot = weicher Fehler, sonst fatal.
func (c *Context) Decode(batch *ml.Batch) error {
	if c.failDecode != nil {
		err := c.failDecode
		c.failDecode = nil
		return err
	}

	n := batch.NumTokens()
	if n == 0 {
		return nil
	}

	if c.rejectNext > 0 {
		c.rejectNext--
		return ml.ErrNoKvSlot
	}

	if c.rejectOver > 0 && n > c.rejectOver {
		return ml.ErrNoKvSlot
	}

	locs, ok := c.mem.findFree(n)
	if !ok {
		return ml.ErrNoKvSlot
	}

	for i := 0; i < n; i++ {
		c.mem.cells[locs[i]] = cell{
			pos:       batch.Pos[i],
			token:     batch.Tokens[i],
			sequences: append([]int(nil), batch.SeqIDs[i]...),
		}
	}

	// Logits-Zeilen erst nach dem Platzieren hashen, damit der Inhalt das
	// gerade dekodierte Token einschliesst
	c.rowHashes = make([]uint64, n)
	for i := 0; i < n; i++ {
		if batch.Logits[i] && len(batch.SeqIDs[i]) > 0 {
			c.rowHashes[i] = hashTokens(c.mem.SeqTokens(batch.SeqIDs[i][0]))
		}
	}

	return nil
}

// rowHash gibt den Inhalts-Hash der Zeile idx des letzten Fensters zurueck
func (c *Context) rowHash(idx int) (uint64, bool) {
	if idx < 0 || idx >= len(c.rowHashes) || c.rowHashes[idx] == 0 {
		return 0, false
	}
	return c.rowHashes[idx], true
}

func (c *Context) NewSampler(params ml.SamplingParams) (ml.Sampler, error) {
	return &sampler{c: c, params: params}, nil
}

// hashTokens bildet eine Token-Folge auf einen FNV-1a Hash ab. FNV statt
// hash/maphash, weil der Hash ueber Prozessgrenzen hinweg stabil sein muss.
func hashTokens(tokens []int32) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, t := range tokens {
		binary.LittleEndian.PutUint32(buf[:], uint32(t))
		h.Write(buf[:])
	}

	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return sum
}
