// recompute.go - Checkpointer: steuert, welche Aktivierungen im Forward
// gesichert werden (spec.md §4.8 Gradient-Checkpointing).
package ckpt

import "github.com/hybridtrain/core/config"

// Checkpointer entscheidet pro Layer-Index, ob die Aktivierung gesichert
// wird oder im Backward aus der letzten Sicherung neu berechnet werden
// muss.
type Checkpointer struct {
	cfg config.CheckpointConfig
}

// New erstellt einen Checkpointer aus der gegebenen Konfiguration.
func New(cfg config.CheckpointConfig) *Checkpointer {
	return &Checkpointer{cfg: cfg}
}

// ShouldSave meldet, ob der Layer mit Index i seine Aktivierung sichern
// soll (i % SaveEveryN == 0). Layer 0 wird immer gesichert.
func (c *Checkpointer) ShouldSave(i int) bool {
	if c.cfg.SaveEveryN <= 0 {
		return true
	}
	return i%c.cfg.SaveEveryN == 0
}

// Recompute meldet, ob nicht gesicherte Aktivierungen im Backward
// rekonstruiert werden sollen statt als Fehler zu melden.
func (c *Checkpointer) Recompute() bool { return c.cfg.Recompute }
