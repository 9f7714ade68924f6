package resource

import (
	"sync/atomic"

	"geoproxy.local/geoproxy/internal/geourl"
)

// Table is the read-mostly Resource collection the Matcher scans per
// request (spec.md §5: "readers must see a consistent snapshot"). Reloads
// swap the whole slice atomically; concurrent readers never observe a
// partially-updated configuration.
type Table struct {
	resources atomic.Pointer[[]*Resource]
}

// NewTable builds a Table from an initial Resource list, in configuration
// order (match order is significant, spec.md §4.2).
func NewTable(resources []*Resource) *Table {
	t := &Table{}
	t.Reload(resources)
	return t
}

// Reload atomically replaces the resource set.
func (t *Table) Reload(resources []*Resource) {
	snapshot := append([]*Resource(nil), resources...)
	t.resources.Store(&snapshot)
}

// All returns the current resource snapshot. Callers must not mutate the
// returned slice.
func (t *Table) All() []*Resource {
	p := t.resources.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Match applies the Resource Matcher algorithm (spec.md §4.2) to the
// current snapshot, returning the first Resource whose pattern matches req.
func (t *Table) Match(req geourl.Tuple) (*Resource, bool) {
	all := t.All()
	patterns := make([]geourl.Pattern, len(all))
	for i, r := range all {
		patterns[i] = geourl.Pattern{
			Protocol: r.Pattern.Protocol,
			Host:     r.Pattern.Host,
			Path:     r.Pattern.Path,
			MatchAll: r.MatchAll,
		}
	}
	idx, ok := geourl.Match(req, patterns)
	if !ok {
		return nil, false
	}
	return all[idx], true
}

// Get returns a Resource by ID from the current snapshot, or nil.
func (t *Table) Get(id string) *Resource {
	for _, r := range t.All() {
		if r.ID == id {
			return r
		}
	}
	return nil
}
