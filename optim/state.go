// state.go - OptimizerState: pro-Parameter m/v(/v_max), v in bf16 gepackt
// zur Realisierung des "mixed-precision optimizer" aus spec.md §1.
package optim

import (
	"github.com/d4l3k/go-bfloat16"
)

// paramState haelt den ersten Moment in f32 (Genauigkeit zaehlt hier) und
// den zweiten Moment bf16-gepackt (haelt Optimierer-Speicher), sowie
// optional v_max fuer AMSGrad.
type paramState struct {
	m    []float32
	v    []byte // bf16, len(v) == 2*n
	vMax []byte // bf16, nur bei AMSGrad belegt
	n    int
}

func newParamState(n int, amsgrad bool) *paramState {
	s := &paramState{
		m: make([]float32, n),
		v: bfloat16.EncodeFloat32(make([]float32, n)),
		n: n,
	}
	if amsgrad {
		s.vMax = bfloat16.EncodeFloat32(make([]float32, n))
	}
	return s
}

func (s *paramState) vFloats() []float32    { return bfloat16.DecodeFloat32(s.v) }
func (s *paramState) setV(v []float32)      { s.v = bfloat16.EncodeFloat32(v) }
func (s *paramState) vMaxFloats() []float32 { return bfloat16.DecodeFloat32(s.vMax) }
func (s *paramState) setVMax(v []float32)   { s.vMax = bfloat16.EncodeFloat32(v) }
