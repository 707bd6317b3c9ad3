// memory.go - Zellen-basierter KV-Speicher der simulierten Runtime
//
// Dieses Modul verwaltet die KV-Belegung:
// - Clear: Entfernt alle Eintraege aller Sequenzen
// - SeqCopy: Aliast die Zellen einer Sequenz unter einer weiteren Sequenz-ID
// - SeqRemove: Entfernt eine Sequenz aus einem Positionsbereich
// - Used/SeqLen/SeqTokens: Inspektion fuer Scheduler-Tests
//
// Jede Zelle traegt Position, Token und die Liste der Sequenzen, zu denen
// sie gehoert. Eine Zelle ist frei, sobald keine Sequenz sie mehr haelt.
package sim

import (
	"slices"
	"sort"
)

type cell struct {
	pos       int32
	token     int32
	sequences []int
}

// Memory ist der KV-Speicher eines simulierten Kontexts
type Memory struct {
	cells []cell
}

func newMemory(numCtx int) *Memory {
	return &Memory{cells: make([]cell, numCtx)}
}

// Clear entfernt alle Eintraege aller Sequenzen
func (m *Memory) Clear() {
	for i := range m.cells {
		m.cells[i] = cell{}
	}
}

// SeqCopy aliast die Zellen von srcSeq in [p0, p1) unter dstSeq.
// Vorhandene dstSeq-Eintraege werden zuerst entfernt, damit dst danach
// genau den kopierten Bereich haelt. Eine negative Grenze laesst den
// Bereich auf ihrer Seite offen; beide negativ: gesamter Bereich.
func (m *Memory) SeqCopy(srcSeq, dstSeq int, p0, p1 int32) {
	lo, hi := normRange(p0, p1)

	for i := range m.cells {
		if slices.Contains(m.cells[i].sequences, dstSeq) {
			m.cells[i].sequences = slices.DeleteFunc(m.cells[i].sequences, func(s int) bool { return s == dstSeq })
		}

		if slices.Contains(m.cells[i].sequences, srcSeq) && m.cells[i].pos >= lo && m.cells[i].pos < hi {
			m.cells[i].sequences = append(m.cells[i].sequences, dstSeq)
		}
	}
}

// SeqRemove entfernt seq aus allen Zellen in [p0, p1).
// Zellen ohne verbleibende Sequenz werden frei.
func (m *Memory) SeqRemove(seq int, p0, p1 int32) {
	lo, hi := normRange(p0, p1)

	for i := range m.cells {
		if m.cells[i].pos >= lo && m.cells[i].pos < hi && slices.Contains(m.cells[i].sequences, seq) {
			m.cells[i].sequences = slices.DeleteFunc(m.cells[i].sequences, func(s int) bool { return s == seq })
			if len(m.cells[i].sequences) == 0 {
				m.cells[i] = cell{}
			}
		}
	}
}

// Used gibt die Anzahl belegter Zellen zurueck
func (m *Memory) Used() int {
	var used int
	for i := range m.cells {
		if len(m.cells[i].sequences) > 0 {
			used++
		}
	}
	return used
}

// SeqLen gibt die Anzahl der Zellen zurueck, die seq haelt
func (m *Memory) SeqLen(seq int) int {
	var n int
	for i := range m.cells {
		if slices.Contains(m.cells[i].sequences, seq) {
			n++
		}
	}
	return n
}

// SeqTokens gibt die Tokens von seq in Positions-Reihenfolge zurueck
func (m *Memory) SeqTokens(seq int) []int32 {
	type entry struct {
		pos   int32
		token int32
	}

	var entries []entry
	for i := range m.cells {
		if slices.Contains(m.cells[i].sequences, seq) {
			entries = append(entries, entry{pos: m.cells[i].pos, token: m.cells[i].token})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	tokens := make([]int32, len(entries))
	for i, e := range entries {
		tokens[i] = e.token
	}
	return tokens
}

// findFree sucht n freie Zellen-Indizes
func (m *Memory) findFree(n int) ([]int, bool) {
	locs := make([]int, 0, n)
	for i := range m.cells {
		if len(m.cells[i].sequences) == 0 {
			locs = append(locs, i)
			if len(locs) == n {
				return locs, true
			}
		}
	}
	return nil, false
}

func normRange(p0, p1 int32) (int32, int32) {
	lo := p0
	if lo < 0 {
		lo = 0
	}
	hi := p1
	if hi < 0 {
		hi = int32(1) << 30
	}
	return lo, hi
}
