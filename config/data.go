// data.go - DataConfig: Batch-Geometrie und Iterator-Optionen.
package config

// DataConfig beschreibt, wie Trainingsbatches geformt und bezogen werden.
type DataConfig struct {
	BatchSize  int
	SeqLength  int
	VocabSize  int
	Shuffle    bool
	NumWorkers int
}

// DefaultDataConfig liefert eine kleine Batch-Geometrie fuer lokale Laeufe.
func DefaultDataConfig() DataConfig {
	return DataConfig{
		BatchSize:  4,
		SeqLength:  512,
		VocabSize:  32000,
		Shuffle:    true,
		NumWorkers: 2,
	}
}
