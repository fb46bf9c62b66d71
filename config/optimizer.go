// optimizer.go - OptimizerConfig: AdamW-Hyperparameter und Schedule-Grenzen.
package config

// OptimizerConfig sammelt die AdamW-Hyperparameter aus spec.md §6.
// MaxGradNorm == 0 bedeutet "kein Clipping".
type OptimizerConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	MaxGradNorm  float64
	AMSGrad      bool

	WarmupSteps int
	TotalSteps  int
	MinLR       float64
}

// DefaultOptimizerConfig liefert die ueblichen AdamW-Defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		LearningRate: 2e-4,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
		MaxGradNorm:  1.0,
		AMSGrad:      false,
		WarmupSteps:  100,
		TotalSteps:   10000,
		MinLR:        2e-5,
	}
}
