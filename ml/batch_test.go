// batch_test.go - Tests fuer die Batch-Struktur
package ml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBatchAddAndSlice(t *testing.T) {
	var b Batch
	b.Add(10, 0, false, 1)
	b.Add(11, 1, false, 1)
	b.Add(12, 2, true, 1, 2)

	if b.NumTokens() != 3 {
		t.Fatalf("NumTokens = %d, erwartet 3", b.NumTokens())
	}

	view := b.Slice(1, 2)
	if diff := cmp.Diff([]int32{11, 12}, view.Tokens); diff != "" {
		t.Errorf("Slice-Tokens weichen ab:\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, view.SeqIDs[1]); diff != "" {
		t.Errorf("Slice-SeqIDs weichen ab:\n%s", diff)
	}
	if !view.Logits[1] {
		t.Error("Logits-Flag ging beim Slicen verloren")
	}
}

func TestBatchClearKeepsCapacity(t *testing.T) {
	var b Batch
	for i := range 8 {
		b.Add(int32(i), int32(i), false, 0)
	}

	b.Clear()
	if b.NumTokens() != 0 {
		t.Errorf("NumTokens nach Clear = %d, erwartet 0", b.NumTokens())
	}
	if cap(b.Tokens) < 8 {
		t.Errorf("Kapazitaet nach Clear = %d, erwartet >= 8", cap(b.Tokens))
	}
}
