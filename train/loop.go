// loop.go - TrainingLoop: orchestriert Forward/Loss/Backward/Optimizer
// je Schritt (spec.md §4.9). Nur LoRA-Adapter sind trainierbar; das
// eingefrorene Basismodell liefert keine Backward-Formeln in spec.md
// §4.3/§4.4, daher propagiert der Rueckwaertspfad durch jede Schicht per
// Identitaet entlang ihrer Residualverbindung (beide Schichttypen
// addieren den Eingang auf die transformierte Ausgabe, siehe
// ssmlayer.Forward/moelayer.Forward) statt durch die Scan-Rekursion bzw.
// das Experten-FFN zu differenzieren - diese sind, wie im Forward, einem
// externen Kernel-Kollaborator vorbehalten, den dieser Kern nicht
// mitliefert. Siehe DESIGN.md fuer die Begruendung dieser Vereinfachung.
//
// Eine Folge davon: der hier verwendete Gradient am Anlagepunkt ist
// gradHidden (Form [..., DModel]), korrekt fuer out-proj-Anlagepunkte
// (deren B ebenfalls auf DModel abbildet). Ein Adapter an "moe-router"
// (B bildet auf NumExperts ab) scheitert an Adapter.Backward's eigener
// Formpruefung mit ShapeMismatch statt still falsch zu rechnen.
package train

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hybridtrain/core/actcache"
	"github.com/hybridtrain/core/ckpt"
	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/lora"
	"github.com/hybridtrain/core/loss"
	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/moelayer"
	"github.com/hybridtrain/core/optim"
	"github.com/hybridtrain/core/qmodel"
	"github.com/hybridtrain/core/ssmlayer"
	"github.com/hybridtrain/core/tensor"
)

// TrainingLoop owns every collaborator spec.md §4.9 names: the model,
// its attached adapters, the optimizer, the data source, the activation
// cache/gradient accumulator, and the checkpoint sink/run index.
type TrainingLoop struct {
	Model      *qmodel.QuantizedModel
	Adapters   *lora.Set
	Optimizer  *optim.AdamW
	Data       DataSource
	Accountant *memtrack.Accountant
	Sink       ckpt.CheckpointSink
	RunIndex   *ckpt.RunIndex
	RunID      string
	Logger     Logger

	Scan            ssmlayer.ScanKernel
	Expert          moelayer.ExpertKernel
	OnMissingScan   func()
	OnMissingExpert func()

	Checkpoints config.CheckpointConfig
	AccumSteps  int

	accum *GradientAccumulator
	step  int
}

// NewTrainingLoop wires a TrainingLoop from its collaborators.
func NewTrainingLoop(model *qmodel.QuantizedModel, adapters *lora.Set, opt *optim.AdamW, data DataSource, acc *memtrack.Accountant) *TrainingLoop {
	return &TrainingLoop{
		Model:       model,
		Adapters:    adapters,
		Optimizer:   opt,
		Data:        data,
		Accountant:  acc,
		Checkpoints: config.DefaultCheckpointConfig(),
		AccumSteps:  1,
		accum:       NewAccumulator(acc),
	}
}

// StepResult summarizes one completed training step.
type StepResult struct {
	Loss       float64
	Accuracy   float64
	AuxLoss    float64
	Skipped    bool // true when the step was skipped (e.g. EmptyBatch)
	Checkpoint string
}

// Run drives the loop until Data is exhausted or ctx is cancelled.
// Cancellation is only honored between steps (spec.md §5: an in-flight
// step always completes before the loop exits).
func (tl *TrainingLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := tl.Data.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tl.Step(batch); err != nil {
			kind, ok := errs.KindOf(err)
			if ok && kind.Recoverable() {
				if tl.Logger != nil {
					tl.Logger.Warn("skipping step after recoverable error", "error", err.Error())
				}
				continue
			}
			return err
		}
	}
}

// Step runs one full training step (forward, loss, backward,
// accumulate, optionally optimizer.step and checkpoint) for batch.
func (tl *TrainingLoop) Step(batch Batch) (StepResult, error) {
	start := time.Now()
	if err := batch.validate(); err != nil {
		return StepResult{Skipped: true}, err
	}

	var totalLoss, totalAcc, totalAux float64
	tokenCount := 0
	for row := 0; row < len(batch.InputIDs); row++ {
		lossVal, acc, aux, err := tl.stepRow(batch.InputIDs[row], batch.TargetIDs[row])
		if err != nil {
			if kind, ok := errs.KindOf(err); ok && kind == errs.EmptyBatch {
				continue // spec.md §7: loss on an all-padding row is skipped
			}
			return StepResult{}, err
		}
		totalLoss += float64(lossVal)
		totalAcc += float64(acc)
		totalAux += aux
		tokenCount += len(batch.InputIDs[row])
	}
	rows := float64(len(batch.InputIDs))
	tl.accum.MicroBatchDone()

	result := StepResult{Loss: totalLoss / rows, Accuracy: totalAcc / rows, AuxLoss: totalAux / rows}

	if tl.accum.Ready(tl.AccumSteps) {
		grads := tl.accum.Grads()
		params := tl.adapterParamMap()
		if len(grads) > 0 {
			if err := tl.Optimizer.Step(params, grads); err != nil {
				tl.accum.Zero()
				return result, err
			}
		}
		tl.accum.Zero()
		tl.step++

		if tl.Logger != nil && tl.Checkpoints.LogEveryNSteps > 0 && tl.step%tl.Checkpoints.LogEveryNSteps == 0 {
			elapsed := time.Since(start)
			tps := 0.0
			if elapsed > 0 {
				tps = float64(tokenCount) / elapsed.Seconds()
			}
			LogStep(tl.Logger, StepMetrics{
				Step: tl.step, Loss: result.Loss, Accuracy: result.Accuracy,
				TokensPerS: tps, MemorySnap: tl.Accountant.Report(elapsed),
			})
		}

		if tl.Sink != nil && tl.Checkpoints.CheckpointEveryNSteps > 0 && tl.step%tl.Checkpoints.CheckpointEveryNSteps == 0 {
			path, err := tl.writeCheckpoint(result.Loss)
			if err != nil {
				return result, err
			}
			result.Checkpoint = path
			if tl.Logger != nil {
				LogCheckpoint(tl.Logger, tl.step, path)
			}
		}
	}
	return result, nil
}

// stepRow runs forward/loss/backward for a single [1,L] sequence and
// accumulates its adapter gradients.
func (tl *TrainingLoop) stepRow(inputIDs, targetIDs []int) (lossVal, accuracy float32, auxLoss float64, err error) {
	cache := actcache.New()
	defer cache.Clear()

	hidden, err := tl.Model.Embed(inputIDs)
	if err != nil {
		return 0, 0, 0, err
	}

	attachOrder := make([]string, 0, len(tl.Model.Layers))
	for i, kind := range tl.Model.Layers {
		res, err := tl.Model.ForwardLayer(i, hidden, tl.Scan, tl.Expert, tl.OnMissingScan, tl.OnMissingExpert)
		hidden.Release()
		if err != nil {
			return 0, 0, 0, err
		}
		if kind == qmodel.MoE {
			auxLoss += res.AuxLoss
		}
		if _, ok := tl.Adapters.Get(res.AttachPoint); ok {
			cache.Save(res.AttachPoint+".pre", res.PreActivation)
			attachOrder = append(attachOrder, res.AttachPoint)
		} else {
			res.PreActivation.Release()
		}
		hidden = res.Output
	}
	defer hidden.Release()

	targets := [][]int{targetIDs}
	logits, err := tl.Model.ProjectToVocab(hidden)
	if err != nil {
		return 0, 0, 0, err
	}
	defer logits.Release()

	lossVal, accuracy, err = loss.Forward(logits, targets)
	if err != nil {
		return 0, 0, 0, err
	}

	gradLogits, err := loss.Backward(tl.Accountant, logits, targets)
	if err != nil {
		return 0, 0, 0, err
	}
	defer gradLogits.Release()

	gradHidden, err := tl.Model.BackwardProjectToVocab(hidden.Shape(), gradLogits)
	if err != nil {
		return 0, 0, 0, err
	}
	defer gradHidden.Release()

	// The identity-through-residual backward means the same gradHidden
	// reaches every attach point regardless of layer order, so the order
	// visited does not matter here.
	for _, name := range attachOrder {
		ad, _ := tl.Adapters.Get(name)
		x, err := cache.Get(name + ".pre")
		if err != nil {
			return 0, 0, 0, err
		}
		xFlat, err := flattenToRows(x)
		if err != nil {
			return 0, 0, 0, err
		}
		gFlat, err := flattenToRows(gradHidden)
		if err != nil {
			xFlat.Release()
			return 0, 0, 0, err
		}
		gradA, gradB, err := ad.Backward(tl.Accountant, xFlat, gFlat)
		xFlat.Release()
		gFlat.Release()
		if err != nil {
			return 0, 0, 0, err
		}
		if err := tl.accum.Add(name, gradA, gradB); err != nil {
			return 0, 0, 0, err
		}
	}
	return lossVal, accuracy, auxLoss, nil
}

// flattenToRows reshapes a [1,L,D] (or already [rows,D]) tensor into
// [rows,D] for the 2-D LoRA backward algebra.
func flattenToRows(t *tensor.Tensor) (*tensor.Tensor, error) {
	shape := t.Shape()
	if len(shape) == 2 {
		return t.Reshape(shape[0], shape[1])
	}
	return t.Reshape(shape[0]*shape[1], shape[2])
}

func (tl *TrainingLoop) adapterParamMap() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for _, name := range tl.Adapters.Names() {
		ad, _ := tl.Adapters.Get(name)
		out[name+".A"] = ad.A
		out[name+".B"] = ad.B
	}
	return out
}

// CheckpointDir is where writeCheckpoint places adapter snapshot files,
// named "{RunID}-step{N}.htlc". The zero value ("") writes to the
// current working directory.
var CheckpointDir string

func (tl *TrainingLoop) writeCheckpoint(lossVal float64) (string, error) {
	path := filepath.Join(CheckpointDir, fmt.Sprintf("%s-step%d.htlc", tl.RunID, tl.step))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := tl.Sink.Save(f, tl.Adapters); err != nil {
		return "", err
	}
	if tl.RunIndex != nil {
		if err := tl.RunIndex.Insert(ckpt.Record{RunID: tl.RunID, Epoch: 0, Step: tl.step, Loss: lossVal, Path: path}); err != nil {
			return "", err
		}
	}
	return path, nil
}
