// Package dispatch replaces a per-exchange class hierarchy with a small
// lookup table: given a stable exchange identifier, it returns the
// delivery dialect and the max_count hint to use when subscribing and
// fetching snapshots for that exchange.
package dispatch

import (
	"fmt"

	"bookhub/pkg/booktypes"
)

// Entry is one exchange's dialect and book-depth hint.
type Entry struct {
	Dialect  booktypes.Dialect
	MaxCount int
}

// Directory maps exchange identifier → Entry. The zero value is an
// empty directory; use New or Register to populate it.
type Directory struct {
	entries map[string]Entry
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[string]Entry)}
}

// Register adds or overwrites the entry for exchange.
func (d *Directory) Register(exchange string, entry Entry) {
	if d.entries == nil {
		d.entries = make(map[string]Entry)
	}
	d.entries[exchange] = entry
}

// Lookup returns the entry for exchange, or an error if it is unknown —
// the directory is a closed set by design; dispatching to an
// unregistered exchange is a configuration bug, not a retryable error.
func (d *Directory) Lookup(exchange string) (Entry, error) {
	entry, ok := d.entries[exchange]
	if !ok {
		return Entry{}, fmt.Errorf("dispatch: unknown exchange %q", exchange)
	}
	return entry, nil
}

// Exchanges returns every registered exchange identifier.
func (d *Directory) Exchanges() []string {
	out := make([]string, 0, len(d.entries))
	for k := range d.entries {
		out = append(out, k)
	}
	return out
}
