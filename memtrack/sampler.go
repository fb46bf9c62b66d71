// sampler.go - periodischer Hintergrund-Sampler fuer den Memory-Accountant
// Enthaelt: Sampler-Struct, Start/Stop, Lese-Callback.
//
// Laeuft als einzelne goroutine unter Aufsicht einer errgroup.Group
// (spec §5: Hintergrund-Task, der Speicher-Zaehler abtastet; sein Sleep
// ist der einzige Suspensionspunkt dieser Komponente).
package memtrack

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sampler befragt einen Accountant in festen Abstaenden und reicht
// jeden Snapshot an onSample weiter.
type Sampler struct {
	accountant *Accountant
	interval   time.Duration
	onSample   func(Snapshot)

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewSampler erstellt einen Sampler, der interval zwischen zwei Abtastungen wartet.
func NewSampler(accountant *Accountant, interval time.Duration, onSample func(Snapshot)) *Sampler {
	return &Sampler{accountant: accountant, interval: interval, onSample: onSample}
}

// Start startet den Hintergrund-Task. Ein zweiter Start ohne vorheriges
// Stop ist ein No-Op.
func (s *Sampler) Start(ctx context.Context) {
	if s.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		started := time.Now()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if s.onSample != nil {
					s.onSample(s.accountant.Report(now.Sub(started)))
				}
			}
		}
	})
}

// Stop beendet den Hintergrund-Task und wartet auf seine Beendigung.
func (s *Sampler) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := s.group.Wait()
	s.group = nil
	s.cancel = nil
	return err
}
