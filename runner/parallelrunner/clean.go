// clean.go - Bereinigung der finalen Antwort-Texte
//
// Entfernt Reste von Chat-Template-Kontroll-Markern aus dem fertigen
// Antwort-Text. Deterministisch und modell-unabhaengig.
package parallelrunner

import (
	"strings"
	"unicode"
)

// controlMarkers sind bekannte Chat-Template-Marker samt oeffnender
// Gegenstuecke
var controlMarkers = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<start_of_turn>",
	"<end_of_turn>",
	"<|startoftext|>",
	"<|endoftext|>",
	"<s>",
	"</s>",
}

// maxCleanPasses begrenzt die wiederholten Entfernungs-Durchlaeufe
const maxCleanPasses = 5

// cleanResponse entfernt Template-Marker, schneidet fuehrende nicht
// druckbare Bytes und schliessendes Whitespace ab und kappt die Antwort am
// ersten Konversations-Marker.
func cleanResponse(s string) string {
	for range maxCleanPasses {
		before := s
		for _, m := range controlMarkers {
			s = strings.ReplaceAll(s, m, "")
		}
		if s == before {
			break
		}
	}

	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsPrint(r)
	})
	s = strings.TrimRight(s, " \t\r\n")

	if i := strings.Index(s, "\n\nUser:"); i >= 0 {
		s = s[:i]
	}

	return s
}
