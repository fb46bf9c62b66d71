// accountant.go - Speicher-Accountant: Zaehler pro Kategorie mit Peak-Tracking
// Enthaelt: Accountant-Struct, Register/Unregister, Report.
//
// Der Accountant ist die einzige gemeinsame veraenderliche Ressource
// zwischen dem Hintergrund-Sampler und dem Trainingsloop (spec §5); er
// serialisiert Mutationen hinter einem Mutex nach Actor-Disziplin -
// ein Eigentuemer mutiert, Leser sehen ein konsistentes Snapshot.
package memtrack

import (
	"sync"
	"time"

	"github.com/hybridtrain/core/tensor"
)

// Accountant zaehlt lebendige Bytes pro Speicher-Kategorie mit Peak-Tracking.
type Accountant struct {
	mu      sync.Mutex
	current map[tensor.Category]int64
	peak    map[tensor.Category]int64
}

// New erstellt einen leeren Accountant.
func New() *Accountant {
	return &Accountant{
		current: make(map[tensor.Category]int64),
		peak:    make(map[tensor.Category]int64),
	}
}

// Register bucht bytes zur Kategorie category hinzu und aktualisiert den Peak.
func (m *Accountant) Register(category tensor.Category, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[category] += bytes
	if m.current[category] > m.peak[category] {
		m.peak[category] = m.current[category]
	}
}

// Unregister entfernt bytes aus der Buchung von category.
func (m *Accountant) Unregister(category tensor.Category, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[category] -= bytes
	if m.current[category] < 0 {
		m.current[category] = 0
	}
}

// Snapshot ist ein konsistenter Blick auf den Zustand des Accountant
// zu einem Zeitpunkt.
type Snapshot struct {
	Peak        int64
	Current     int64
	ByCategory  map[tensor.Category]CategoryStats
	SampledAt   time.Time
	ElapsedSecs float64
}

// CategoryStats fasst aktuelle und Spitzen-Belegung einer Kategorie zusammen.
type CategoryStats struct {
	Current int64
	Peak    int64
}

// Report erstellt einen Snapshot ueber alle Kategorien. duration wird
// als ElapsedSecs durchgereicht und dient rein der Beobachtbarkeit
// (z.B. fuer tokens/sec-Berichte im Trainingsloop).
func (m *Accountant) Report(duration time.Duration) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCategory := make(map[tensor.Category]CategoryStats, len(m.current))
	var totalCurrent, totalPeak int64
	for cat, cur := range m.current {
		byCategory[cat] = CategoryStats{Current: cur, Peak: m.peak[cat]}
		totalCurrent += cur
		totalPeak += m.peak[cat]
	}
	// categories that only ever appeared in peak (now fully released)
	for cat, pk := range m.peak {
		if _, ok := byCategory[cat]; !ok {
			byCategory[cat] = CategoryStats{Current: 0, Peak: pk}
			totalPeak += pk
		}
	}

	return Snapshot{
		Peak:        totalPeak,
		Current:     totalCurrent,
		ByCategory:  byCategory,
		SampledAt:   time.Now(),
		ElapsedSecs: duration.Seconds(),
	}
}

// CategoryBytes gibt die aktuell gebuchten Bytes einer einzelnen Kategorie zurueck.
func (m *Accountant) CategoryBytes(category tensor.Category) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[category]
}
