// checkpoint.go - CheckpointConfig: Sicherungs- und Wiederaufnahme-Kadenz.
package config

// CheckpointConfig steuert Gradient-Checkpointing und Checkpoint-Schreiben.
type CheckpointConfig struct {
	SaveEveryN int  // Aktivierungs-Checkpoint: jede i mit i % SaveEveryN == 0
	Recompute  bool // Backward rekonstruiert nicht gesicherte Aktivierungen

	CheckpointEveryNSteps int // Adapter-Snapshot alle N Trainingsschritte
	LogEveryNSteps        int // Metrik-Log alle N Trainingsschritte
}

// DefaultCheckpointConfig liefert vernuenftige Defaults fuer lokale Laeufe.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveEveryN:            4,
		Recompute:             true,
		CheckpointEveryNSteps: 500,
		LogEveryNSteps:        10,
	}
}
