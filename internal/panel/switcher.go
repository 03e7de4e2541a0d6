// Package panel tracks which one of several mutually exclusive panels is visible.
package panel

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownPanel is returned by Show for an ID that was never registered.
var ErrUnknownPanel = errors.New("unknown panel")

// Panel IDs of the conversion page.
const (
	Compressor = "compressor"
	ImageToPDF = "img-to-pdf"
	PDFToImage = "pdf-to-img"
)

// Switcher shows exactly one registered panel at a time.
type Switcher struct {
	visible map[string]bool
	order   []string
	mu      sync.RWMutex
}

// NewSwitcher registers ids in order; the first one starts visible.
func NewSwitcher(ids ...string) *Switcher {
	switcher := &Switcher{visible: make(map[string]bool, len(ids))}

	for _, id := range ids {
		if _, dup := switcher.visible[id]; dup {
			continue
		}

		switcher.visible[id] = false
		switcher.order = append(switcher.order, id)
	}

	if len(switcher.order) > 0 {
		switcher.visible[switcher.order[0]] = true
	}

	return switcher
}

// Show hides every panel, then shows id. An unknown id changes nothing.
func (switcher *Switcher) Show(id string) error {
	switcher.mu.Lock()
	defer switcher.mu.Unlock()

	if _, ok := switcher.visible[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPanel, id)
	}

	for panelID := range switcher.visible {
		switcher.visible[panelID] = false
	}

	switcher.visible[id] = true

	return nil
}

// Visible reports whether id is the shown panel.
func (switcher *Switcher) Visible(id string) bool {
	switcher.mu.RLock()
	defer switcher.mu.RUnlock()

	return switcher.visible[id]
}

// Active returns the shown panel, or "" when none is registered.
func (switcher *Switcher) Active() string {
	switcher.mu.RLock()
	defer switcher.mu.RUnlock()

	for _, id := range switcher.order {
		if switcher.visible[id] {
			return id
		}
	}

	return ""
}

// Panels returns the registered IDs in registration order.
func (switcher *Switcher) Panels() []string {
	switcher.mu.RLock()
	defer switcher.mu.RUnlock()

	return slices.Clone(switcher.order)
}
