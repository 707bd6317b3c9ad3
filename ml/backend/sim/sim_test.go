// sim_test.go - Tests fuer Vokabular und Sampler der simulierten Runtime
package sim

import (
	"testing"

	"github.com/localllm/localllm/ml"
)

func TestVocabTokenizeRoundTrip(t *testing.T) {
	rt := New(Config{})
	vocab := rt.Vocab()

	tokens, err := vocab.Tokenize("abc", true, true)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(tokens) != 4 {
		t.Fatalf("Token-Anzahl = %d, erwartet 4 (BOS + 3 Bytes)", len(tokens))
	}
	if tokens[0] != vocab.BOS() {
		t.Errorf("tokens[0] = %d, erwartet BOS %d", tokens[0], vocab.BOS())
	}

	if got := vocab.Detokenize(tokens); got != "abc" {
		t.Errorf("Detokenize = %q, erwartet %q (BOS rendert leer)", got, "abc")
	}
}

func TestVocabNoBOS(t *testing.T) {
	rt := New(Config{NoBOS: true})

	tokens, err := rt.Vocab().Tokenize("ab", true, true)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("Token-Anzahl = %d, erwartet 2", len(tokens))
	}
}

func TestVocabSpecials(t *testing.T) {
	rt := New(Config{})
	vocab := rt.Vocab()

	if !vocab.IsEOG(vocab.EOS()) || !vocab.IsEOG(vocab.EOT()) {
		t.Error("EOS/EOT muessen als EOG gelten")
	}
	if vocab.IsEOG(byteBase + 'a') {
		t.Error("Byte-Token darf nicht als EOG gelten")
	}
	if !vocab.IsControl(vocab.BOS()) {
		t.Error("BOS muss Kontroll-Token sein")
	}
	if vocab.Piece(vocab.EOS()) != "" {
		t.Errorf("Piece(EOS) = %q, erwartet leer", vocab.Piece(vocab.EOS()))
	}
	if vocab.Text(vocab.EOS()) != "</s>" {
		t.Errorf("Text(EOS) = %q, erwartet </s>", vocab.Text(vocab.EOS()))
	}
}

// TestSamplerDeterministic prueft dass das naechste Token nur vom
// Sequenz-Inhalt abhaengt
func TestSamplerDeterministic(t *testing.T) {
	sample := func() int32 {
		rt := New(Config{})
		lc, err := rt.NewContext(ml.ContextParams{NumCtx: 64, BatchSize: 16, NumSeqMax: 2})
		if err != nil {
			t.Fatalf("NewContext: %v", err)
		}
		c := lc.(*Context)

		var b ml.Batch
		for i, tok := range []int32{100, 101, 102} {
			b.Add(tok, int32(i), i == 2, 1)
		}
		if err := c.Decode(&b); err != nil {
			t.Fatalf("Decode: %v", err)
		}

		smp, err := c.NewSampler(ml.SamplingParams{})
		if err != nil {
			t.Fatalf("NewSampler: %v", err)
		}
		defer smp.Close()

		return smp.Sample(c, 2)
	}

	first, second := sample(), sample()
	if first != second {
		t.Errorf("Sampling nicht deterministisch: %d vs %d", first, second)
	}
	if first < byteBase || first >= byteBase+256 {
		t.Errorf("Token %d ausserhalb des Byte-Bereichs", first)
	}
}

// TestSamplerForced prueft geskriptete Fortsetzungen
func TestSamplerForced(t *testing.T) {
	rt := New(Config{})
	lc, err := rt.NewContext(ml.ContextParams{NumCtx: 64, BatchSize: 16, NumSeqMax: 2})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c := lc.(*Context)

	history := []int32{100, 101}
	c.Force(history, tokenEOS)

	var b ml.Batch
	for i, tok := range history {
		b.Add(tok, int32(i), i == 1, 1)
	}
	if err := c.Decode(&b); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	smp, _ := c.NewSampler(ml.SamplingParams{})
	defer smp.Close()

	if got := smp.Sample(c, 1); got != tokenEOS {
		t.Errorf("Sample = %d, erwartet erzwungenes EOS %d", got, tokenEOS)
	}
}

// TestSamplerNoLogitsRow prueft den Rueckgabewert -1 fuer Zeilen ohne Logits
func TestSamplerNoLogitsRow(t *testing.T) {
	rt := New(Config{})
	lc, err := rt.NewContext(ml.ContextParams{NumCtx: 64, BatchSize: 16, NumSeqMax: 2})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c := lc.(*Context)

	var b ml.Batch
	b.Add(100, 0, false, 1)
	if err := c.Decode(&b); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	smp, _ := c.NewSampler(ml.SamplingParams{})
	defer smp.Close()

	if got := smp.Sample(c, 0); got != -1 {
		t.Errorf("Sample ohne Logits = %d, erwartet -1", got)
	}
}

// TestPickCandidate prueft die Kandidaten-Verschiebung der
// Wiederholungs-Strafe
func TestPickCandidate(t *testing.T) {
	tokC := byteBase + int32('c')
	tokD := byteBase + int32('d')

	tests := []struct {
		name    string
		mix     uint64
		recent  []int32
		penalty float32
		want    int32
	}{
		{
			name:    "Strafe inaktiv liefert Basis-Kandidat",
			mix:     2,
			recent:  []int32{tokC},
			penalty: 1.0,
			want:    tokC,
		},
		{
			name:    "bestrafter Kandidat rueckt weiter",
			mix:     2,
			recent:  []int32{tokC},
			penalty: 1.1,
			want:    tokD,
		},
		{
			name:    "leeres Fenster laesst Basis-Kandidat stehen",
			mix:     2,
			recent:  nil,
			penalty: 1.1,
			want:    tokC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickCandidate(tt.mix, tt.recent, tt.penalty); got != tt.want {
				t.Errorf("pickCandidate() = %d, erwartet %d", got, tt.want)
			}
		})
	}
}

// TestPickCandidateAllPenalized prueft den Rueckfall wenn alle Buchstaben
// im Strafen-Fenster liegen
func TestPickCandidateAllPenalized(t *testing.T) {
	recent := make([]int32, 0, 26)
	for b := byte('a'); b <= 'z'; b++ {
		recent = append(recent, byteBase+int32(b))
	}

	want := byteBase + int32('h')
	if got := pickCandidate(7, recent, 1.1); got != want {
		t.Errorf("pickCandidate() = %d, erwartet Basis-Kandidat %d", got, want)
	}
}

// TestSamplerAcceptWindow prueft dass das Strafen-Fenster auf RepeatLastN
// Tokens begrenzt bleibt
func TestSamplerAcceptWindow(t *testing.T) {
	rt := New(Config{})
	lc, err := rt.NewContext(ml.ContextParams{NumCtx: 64, BatchSize: 16, NumSeqMax: 2})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	smp, err := lc.NewSampler(ml.SamplingParams{RepeatLastN: 3, PenaltyRepeat: 1.1})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	s := smp.(*sampler)

	for tok := int32(0); tok < 5; tok++ {
		s.Accept(byteBase+tok, true)
	}

	if len(s.recent) != 3 {
		t.Fatalf("Fenster-Laenge = %d, erwartet 3", len(s.recent))
	}
	for i, want := range []int32{byteBase + 2, byteBase + 3, byteBase + 4} {
		if s.recent[i] != want {
			t.Errorf("recent[%d] = %d, erwartet %d", i, s.recent[i], want)
		}
	}
	if s.nAccepted != 5 {
		t.Errorf("nAccepted = %d, erwartet 5", s.nAccepted)
	}
}

// TestSamplerNoWindowWithoutRepeatLastN prueft dass ohne RepeatLastN keine
// Historie gehalten wird
func TestSamplerNoWindowWithoutRepeatLastN(t *testing.T) {
	rt := New(Config{})
	lc, err := rt.NewContext(ml.ContextParams{NumCtx: 64, BatchSize: 16, NumSeqMax: 2})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	smp, _ := lc.NewSampler(ml.SamplingParams{})
	s := smp.(*sampler)

	s.Accept(byteBase, true)
	s.Accept(byteBase+1, false)

	if len(s.recent) != 0 {
		t.Errorf("Fenster-Laenge = %d, erwartet 0", len(s.recent))
	}
	if s.nAccepted != 2 {
		t.Errorf("nAccepted = %d, erwartet 2", s.nAccepted)
	}
}
