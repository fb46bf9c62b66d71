// model.go - ModelConfig, SSMConfig, MoEConfig: Tunables fuer das Modell
// selbst (Architektur), getrennt von Lauf- und Checkpoint-Konfiguration.
package config

// SSMConfig steuert die Selective-State-Space-Schichten.
type SSMConfig struct {
	ExpandFactor int // Innenbreite d_inner = DModel * ExpandFactor
	DState       int // Zustandsdimension pro Kanal
	DConv        int // Kernelgroesse der Kurzzeit-Faltung
}

// MoEConfig steuert die Mixture-of-Experts-Schichten.
type MoEConfig struct {
	NumExperts     int
	TopK           int
	DFF            int
	CapacityFactor float64
	AuxLossWeight  float64
}

// ModelConfig beschreibt die Architektur: Vokabulargroesse, Breite,
// Tiefe sowie die eingebetteten SSM-/MoE-Parameter.
type ModelConfig struct {
	VocabSize int
	DModel    int
	NumLayers int
	SSM       SSMConfig
	MoE       MoEConfig
}

// DefaultModelConfig liefert eine kleine, fuer Tests und Smoke-Runs
// brauchbare Architektur.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		VocabSize: 32000,
		DModel:    768,
		NumLayers: 24,
		SSM: SSMConfig{
			ExpandFactor: 2,
			DState:       16,
			DConv:        4,
		},
		MoE: MoEConfig{
			NumExperts:     8,
			TopK:           2,
			DFF:            2048,
			CapacityFactor: 1.25,
			AuxLossWeight:  0.01,
		},
	}
}
