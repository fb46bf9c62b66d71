// forward.go - Forward-Pass der Selective-State-Space-Schicht (spec.md §4.3).
package ssmlayer

import (
	"math"
	"sync"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

const rmsNormEps = 1e-5

// Layer buendelt den optionalen Scan-Kernel mit der Einmal-Warnung, die
// beim ersten Fallback auf den CPU-Skip-Pfad ausgeloest wird (spec.md §7,
// MissingKernel: "log a warning once per operator").
type Layer struct {
	Scan ScanKernel

	warnOnce       sync.Once
	OnMissingScan  func()
}

// Forward berechnet spec.md §4.3 Schritte 1-7 fuer Input X [B,L,D].
// Gibt zusaetzlich zur Residual-Ausgabe die vor-out-proj-Aktivierung g
// zurueck (Eingang des §4.5-LoRA-Anlagepunkts "layer{i}.state-out-proj"); der
// Aufrufer entscheidet, ob er sie im Aktivierungs-Cache behaelt.
func (l *Layer) Forward(a tensor.Accountant, w Weights, x *tensor.Tensor) (out, preOutProj *tensor.Tensor, err error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, nil, errs.New(errs.ShapeMismatch, "ssm forward requires [B,L,D] input")
	}
	b, seqLen, d := shape[0], shape[1], shape[2]
	dInner := w.InProj.Shape()[1] / 2

	xHat, err := tensor.RMSNorm(a, x, rmsNormEps)
	if err != nil {
		return nil, nil, err
	}
	defer xHat.Release()

	flat, err := xHat.Reshape(b*seqLen, d)
	if err != nil {
		return nil, nil, err
	}
	defer flat.Release()

	proj, err := tensor.MatMul(a, flat, w.InProj)
	if err != nil {
		return nil, nil, err
	}
	defer proj.Release()

	xBranch, zBranch, err := splitLastDim(a, proj, dInner)
	if err != nil {
		return nil, nil, err
	}
	defer xBranch.Release()
	defer zBranch.Release()

	zGate, err := tensor.SiLU(a, zBranch)
	if err != nil {
		return nil, nil, err
	}
	defer zGate.Release()

	delta, bSSM, cSSM, err := l.projectScanInputs(a, w, xBranch, b, seqLen, dInner)
	if err != nil {
		return nil, nil, err
	}
	defer delta.Release()
	defer bSSM.Release()
	defer cSSM.Release()

	xSeq, err := xBranch.Reshape(b, seqLen, dInner)
	if err != nil {
		return nil, nil, err
	}
	defer xSeq.Release()
	deltaSeq, err := delta.Reshape(b, seqLen, dInner)
	if err != nil {
		return nil, nil, err
	}
	defer deltaSeq.Release()

	aDecay, err := negExpALog(a, w.ALog)
	if err != nil {
		return nil, nil, err
	}
	defer aDecay.Release()

	var y *tensor.Tensor
	if l.Scan != nil {
		y, err = l.Scan.Run(xSeq, deltaSeq, aDecay, bSSM, cSSM, w.DSkip)
	} else {
		l.warnOnce.Do(func() {
			if l.OnMissingScan != nil {
				l.OnMissingScan()
			}
		})
		y, err = skipOnlyScan(a, xSeq, w.DSkip)
	}
	if err != nil {
		return nil, nil, err
	}
	defer y.Release()

	yFlat, err := y.Reshape(b*seqLen, dInner)
	if err != nil {
		return nil, nil, err
	}
	defer yFlat.Release()

	g, err := tensor.Mul(a, yFlat, zGate)
	if err != nil {
		return nil, nil, err
	}
	defer g.Release()

	o, err := tensor.MatMul(a, g, w.OutProj)
	if err != nil {
		return nil, nil, err
	}
	defer o.Release()

	oSeq, err := o.Reshape(b, seqLen, d)
	if err != nil {
		return nil, nil, err
	}
	defer oSeq.Release()

	residual, err := tensor.Add(a, x, oSeq)
	if err != nil {
		return nil, nil, err
	}

	// g.Reshape retains g's storage, so the view stays valid past the
	// deferred g.Release() above.
	gSeq, err := g.Reshape(b, seqLen, dInner)
	if err != nil {
		residual.Release()
		return nil, nil, err
	}
	return residual, gSeq, nil
}

// splitLastDim teilt einen [rows, 2*width]-Tensor in zwei [rows,
// width]-Tensoren entlang der letzten Dimension.
func splitLastDim(a tensor.Accountant, t *tensor.Tensor, width int) (*tensor.Tensor, *tensor.Tensor, error) {
	shape := t.Shape()
	rows := shape[0]
	vals := t.Floats()
	left := make([]float32, rows*width)
	right := make([]float32, rows*width)
	full := 2 * width
	for r := 0; r < rows; r++ {
		copy(left[r*width:(r+1)*width], vals[r*full:r*full+width])
		copy(right[r*width:(r+1)*width], vals[r*full+width:r*full+full])
	}
	lt, err := tensor.FromFloats(a, t.Category(), left, rows, width)
	if err != nil {
		return nil, nil, err
	}
	rt, err := tensor.FromFloats(a, t.Category(), right, rows, width)
	if err != nil {
		lt.Release()
		return nil, nil, err
	}
	return lt, rt, nil
}

// projectScanInputs leitet aus dem x-Zweig die Scan-Eingaben Δ, B_ssm,
// C_ssm ab: x-proj liefert [rows, dtRank+2*DState], der dtRank-Teil geht
// durch dt-proj und Softplus zu Δ [rows, dInner]; die beiden verbleibenden
// DState-breiten Teile sind B_ssm und C_ssm, auf [B,L,DState] geformt.
func (l *Layer) projectScanInputs(a tensor.Accountant, w Weights, xBranch *tensor.Tensor, b, seqLen, dInner int) (delta, bSSM, cSSM *tensor.Tensor, err error) {
	xProjShape := w.XProj.Shape()
	width := xProjShape[1]
	dState := w.ALog.Shape()[1]
	dtRank := width - 2*dState

	projected, err := tensor.MatMul(a, xBranch, w.XProj)
	if err != nil {
		return nil, nil, nil, err
	}
	defer projected.Release()

	rows := b * seqLen
	vals := projected.Floats()
	dtRaw := make([]float32, rows*dtRank)
	bVals := make([]float32, rows*dState)
	cVals := make([]float32, rows*dState)
	for r := 0; r < rows; r++ {
		base := r * width
		copy(dtRaw[r*dtRank:(r+1)*dtRank], vals[base:base+dtRank])
		copy(bVals[r*dState:(r+1)*dState], vals[base+dtRank:base+dtRank+dState])
		copy(cVals[r*dState:(r+1)*dState], vals[base+dtRank+dState:base+dtRank+2*dState])
	}

	dtRawT, err := tensor.FromFloats(a, tensor.Temporary, dtRaw, rows, dtRank)
	if err != nil {
		return nil, nil, nil, err
	}
	defer dtRawT.Release()

	dtFull, err := tensor.MatMul(a, dtRawT, w.DtProj)
	if err != nil {
		return nil, nil, nil, err
	}

	delta, err = tensor.Softplus(a, dtFull)
	dtFull.Release()
	if err != nil {
		return nil, nil, nil, err
	}

	bSSM, err = tensor.FromFloats(a, tensor.Temporary, bVals, b, seqLen, dState)
	if err != nil {
		delta.Release()
		return nil, nil, nil, err
	}
	cSSM, err = tensor.FromFloats(a, tensor.Temporary, cVals, b, seqLen, dState)
	if err != nil {
		delta.Release()
		bSSM.Release()
		return nil, nil, nil, err
	}
	return delta, bSSM, cSSM, nil
}

// negExpALog leitet den negativen Zerfallsratentensor A = -exp(A_log) ab,
// die uebliche Mamba-Parametrisierung, die A < 0 garantiert.
func negExpALog(a tensor.Accountant, aLog *tensor.Tensor) (*tensor.Tensor, error) {
	vals := aLog.Floats()
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = -float32(math.Exp(float64(v)))
	}
	return tensor.FromFloats(a, tensor.Temporary, out, aLog.Shape()...)
}

// skipOnlyScan ist der CPU-Fallback aus spec.md §4.3/§9 Open Question 3:
// y_t = D_c * x_t, unabhaengig von Δ, A, B_ssm, C_ssm.
func skipOnlyScan(a tensor.Accountant, x, dSkip *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	b, seqLen, dInner := shape[0], shape[1], shape[2]
	xVals := x.Floats()
	dVals := dSkip.Floats()
	out := make([]float32, len(xVals))
	for bi := 0; bi < b; bi++ {
		for t := 0; t < seqLen; t++ {
			base := (bi*seqLen + t) * dInner
			for c := 0; c < dInner; c++ {
				out[base+c] = dVals[c] * xVals[base+c]
			}
		}
	}
	return tensor.FromFloats(a, tensor.Activations, out, b, seqLen, dInner)
}
