// stop.go - End-of-Generation-Erkennung
//
// Zwei Schichten laufen nach jedem gezogenen Token:
// - Einzel-Token: das Vokabular kennt das Token als EOG
// - Mehr-Token: die letzten stopWindow akzeptierten Tokens entsprechen
//   einem Eintrag der Stop-Tabelle
//
// Chat-getunte Modelle geben ihren End-of-Turn-Marker teils als
// Subword-Folge statt als dediziertes Kontroll-Token aus; die Tabelle
// haelt solche empirisch ermittelten Folgen pro Ziel-Vokabular.
package parallelrunner

import (
	"bytes"

	"github.com/localllm/localllm/ml"
)

// defaultStopSequences sind die eingebauten Mehr-Token-Stop-Sequenzen
var defaultStopSequences = [][stopWindow]int32{
	// "<|im_end|>" als Subword-Folge (ChatML-Vokabulare ohne EOT-Token)
	{27, 91, 318, 62, 437, 91, 29},
	// "<end_of_turn>" als Subword-Folge (Gemma-artige Vokabulare)
	{27, 437, 62, 1073, 62, 919, 29},
}

// matchesStop prueft ein volles recent-Fenster gegen die Tabelle
func matchesStop(recent []int32, table [][stopWindow]int32) bool {
	if len(recent) != stopWindow {
		return false
	}

	for _, seq := range table {
		match := true
		for i := range seq {
			if recent[i] != seq[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

// retractStopTail entfernt die Textdarstellung der sechs Tokens vor dem
// zuletzt gezogenen aus response, sofern sie dort tatsaechlich als Suffix
// stehen. Kreuzt die Folge eine bereits bereinigte Grenze, passt das Suffix
// nicht und response bleibt unveraendert; der Slot terminiert trotzdem.
func retractStopTail(response []byte, recent []int32, vocab ml.Vocab) []byte {
	var tail []byte
	for _, t := range recent[:stopWindow-1] {
		tail = append(tail, vocab.Piece(t)...)
	}

	if len(tail) > 0 && bytes.HasSuffix(response, tail) {
		return response[:len(response)-len(tail)]
	}

	return response
}

// Stop-Heuristiken fuer Konversations-Marker; greifen erst nachdem
// mindestens sechs Tokens generiert wurden
var conversationMarkers = [][]byte{
	[]byte("\n\nUser:"),
	[]byte("\n\nHuman:"),
}

func hitsConversationMarker(response []byte) bool {
	for _, m := range conversationMarkers {
		if bytes.Contains(response, m) {
			return true
		}
	}
	return false
}
