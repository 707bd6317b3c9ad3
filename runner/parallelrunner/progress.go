// progress.go - Fortschrittsbalken fuer die parallele Generierung
//
// Rein beobachtend: ein 30-Zellen-ASCII-Balken plus rotierender Spinner
// auf stderr, aktualisiert nach jeder Slot-Finalisierung. Beeinflusst den
// Kontrollfluss nie; alle Methoden sind auf nil-Empfaengern no-ops.
package parallelrunner

import (
	"fmt"
	"io"
	"os"

	"github.com/containerd/console"
)

// progressCells ist die Zellen-Anzahl des Balkens
const progressCells = 30

var spinnerFrames = []byte{'|', '/', '-', '\\'}

type progressBar struct {
	w     io.Writer
	total int
	done  int
	spin  int
}

// newProgressBar erstellt einen Balken fuer total Schritte auf stderr.
// Auf schmalen Konsolen wird nicht gerendert.
func newProgressBar(total int) *progressBar {
	if total <= 0 {
		return nil
	}

	if c, err := console.ConsoleFromFile(os.Stderr); err == nil {
		if size, err := c.Size(); err == nil && int(size.Width) < progressCells+16 {
			return nil
		}
	}

	return &progressBar{w: os.Stderr, total: total}
}

// tick meldet eine weitere Slot-Finalisierung
func (p *progressBar) tick() {
	if p == nil {
		return
	}

	p.done++
	p.spin = (p.spin + 1) % len(spinnerFrames)

	filled := p.done * progressCells / p.total
	if filled > progressCells {
		filled = progressCells
	}

	bar := make([]byte, progressCells)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = ' '
		}
	}

	fmt.Fprintf(p.w, "\r[%s] %d/%d %c", bar, p.done, p.total, spinnerFrames[p.spin])
}

// finish schliesst die Balken-Zeile ab
func (p *progressBar) finish() {
	if p == nil || p.done == 0 {
		return
	}

	fmt.Fprintln(p.w)
}
