// logger.go - Logger-Kollaborator: strukturierte JSON-Logs je Trainingslauf
// (spec.md §6: "Logger.log(level, activity, checkpoint?, message,
// memory_snapshot?)"), im Stil von app/cmd/app/app_init.go's
// slog.NewTextHandler-Aufbau, hier JSON statt Text und mit run_id-Tag
// (google/uuid, wie die Teacher-Session/Request-IDs).
package train

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hybridtrain/core/memtrack"
)

// Logger is the narrow interface the training loop depends on; a
// *slog.Logger built by NewLogger satisfies it directly.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewLogger builds a JSON slog.Logger tagged with a fresh run id, one
// entry per training step/event (spec.md §9: logger modeled as an
// explicitly constructed, owned collaborator rather than a process-wide
// singleton).
func NewLogger(w io.Writer, level slog.Level) (*slog.Logger, string) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	runID := uuid.NewString()
	return slog.New(handler).With("run_id", runID), runID
}

// StepMetrics is the structured payload logged every CheckpointConfig.LogEveryNSteps
// steps (spec.md §4.9: "loss, accuracy, tokens/sec, memory used").
type StepMetrics struct {
	Step       int
	Loss       float64
	Accuracy   float64
	TokensPerS float64
	MemorySnap memtrack.Snapshot
}

// LogStep emits one structured metrics record.
func LogStep(l Logger, m StepMetrics) {
	l.Info("training step",
		"step", m.Step,
		"loss", m.Loss,
		"accuracy", m.Accuracy,
		"tokens_per_sec", m.TokensPerS,
		"memory_peak_bytes", m.MemorySnap.Peak,
		"memory_current_bytes", m.MemorySnap.Current,
	)
}

// LogCheckpoint emits a structured record for a checkpoint write.
func LogCheckpoint(l Logger, step int, path string) {
	l.Info("checkpoint written", "step", step, "checkpoint", path)
}
