// stop_test.go - Tests fuer die End-of-Generation-Erkennung
package parallelrunner

import (
	"testing"

	"github.com/localllm/localllm/ml/backend/sim"
)

func byteTokens(s string) []int32 {
	rt := sim.New(sim.Config{NoBOS: true})
	toks, _ := rt.Vocab().Tokenize(s, false, false)
	return toks
}

func TestMatchesStop(t *testing.T) {
	table := [][stopWindow]int32{
		{1, 2, 3, 4, 5, 6, 7},
	}

	tests := []struct {
		name   string
		recent []int32
		want   bool
	}{
		{
			name:   "exakter Treffer",
			recent: []int32{1, 2, 3, 4, 5, 6, 7},
			want:   true,
		},
		{
			name:   "abweichendes letztes Token",
			recent: []int32{1, 2, 3, 4, 5, 6, 8},
			want:   false,
		},
		{
			name:   "unvollstaendiges Fenster",
			recent: []int32{1, 2, 3, 4, 5, 6},
			want:   false,
		},
		{
			name:   "leeres Fenster",
			recent: nil,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesStop(tt.recent, table); got != tt.want {
				t.Errorf("matchesStop(%v) = %v, erwartet %v", tt.recent, got, tt.want)
			}
		})
	}
}

func TestRetractStopTail(t *testing.T) {
	rt := sim.New(sim.Config{NoBOS: true})
	vocab := rt.Vocab()

	recent := byteTokens("ABCDEFG")
	if len(recent) != stopWindow {
		t.Fatalf("recent-Laenge = %d, erwartet %d", len(recent), stopWindow)
	}

	t.Run("Suffix wird entfernt", func(t *testing.T) {
		got := retractStopTail([]byte("helloABCDEF"), recent, vocab)
		if string(got) != "hello" {
			t.Errorf("retractStopTail = %q, erwartet %q", got, "hello")
		}
	})

	t.Run("fehlendes Suffix bleibt unveraendert", func(t *testing.T) {
		// Die Folge kreuzt eine bereits bereinigte Grenze: die Antwort
		// endet nicht mit den sechs gerenderten Tokens und bleibt stehen
		got := retractStopTail([]byte("helloABC"), recent, vocab)
		if string(got) != "helloABC" {
			t.Errorf("retractStopTail = %q, erwartet %q", got, "helloABC")
		}
	})

	t.Run("leere Antwort", func(t *testing.T) {
		got := retractStopTail(nil, recent, vocab)
		if len(got) != 0 {
			t.Errorf("retractStopTail = %q, erwartet leer", got)
		}
	})
}

func TestHitsConversationMarker(t *testing.T) {
	if !hitsConversationMarker([]byte("answer\n\nUser: more")) {
		t.Error("\\n\\nUser: nicht erkannt")
	}
	if !hitsConversationMarker([]byte("answer\n\nHuman: more")) {
		t.Error("\\n\\nHuman: nicht erkannt")
	}
	if hitsConversationMarker([]byte("answer\nUser: more")) {
		t.Error("einzeiliger Marker faelschlich erkannt")
	}
}
