// cache.go - ActivationCache: benannter Speicher fuer Zwischenaktivierungen,
// die der Backward-Pfad fuer LoRA-Gradienten braucht (spec.md §3).
package actcache

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

// Cache haelt, fuer die Dauer eines Forward-Passes, die Aktivierungen, die
// die Rueckwaertsrechnung wieder lesen muss. clear() ist zwischen
// Trainingsschritten Pflicht, um den Speicher zu beschraenken.
type Cache struct {
	entries *orderedmap.OrderedMap[string, *tensor.Tensor]
}

// New returns an empty activation cache.
func New() *Cache {
	return &Cache{entries: orderedmap.New[string, *tensor.Tensor]()}
}

// Save stores t under name, owning it until Clear or Get+release by the
// caller. Overwriting an existing name releases the previous tensor.
func (c *Cache) Save(name string, t *tensor.Tensor) {
	if prev, ok := c.entries.Get(name); ok {
		prev.Release()
	}
	c.entries.Set(name, t)
}

// Get retrieves the tensor saved under name, or a MissingActivation error
// per spec.md §7/§4.5.
func (c *Cache) Get(name string) (*tensor.Tensor, error) {
	t, ok := c.entries.Get(name)
	if !ok {
		return nil, errs.New(errs.MissingActivation, "no activation cached under "+name)
	}
	return t, nil
}

// Clear releases every cached tensor and empties the cache - mandatory
// between training steps (spec.md §3 ActivationCache lifecycle).
func (c *Cache) Clear() {
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.Release()
	}
	c.entries = orderedmap.New[string, *tensor.Tensor]()
}

// Len reports how many activations are currently cached.
func (c *Cache) Len() int {
	return c.entries.Len()
}
