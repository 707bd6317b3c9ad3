// prefix.go - Analyse des gemeinsamen Token-Praefix
//
// Prompts mit gemeinsamem System-Preamble teilen sich die teuerste Phase
// der Inferenz: der Praefix wird genau einmal unter der reservierten
// Sequenz dekodiert und per KV-Kopie in jeden Slot uebernommen.
package parallelrunner

// sharedPrefixLen gibt das groesste L zurueck, fuer das alle Token-Listen
// in den ersten L Positionen uebereinstimmen. O(N*L).
func sharedPrefixLen(lists [][]int32) int {
	if len(lists) == 0 {
		return 0
	}

	n := len(lists[0])
	for _, l := range lists[1:] {
		if len(l) < n {
			n = len(l)
		}
	}

	for i := 0; i < n; i++ {
		for _, l := range lists[1:] {
			if l[i] != lists[0][i] {
				return i
			}
		}
	}

	return n
}
