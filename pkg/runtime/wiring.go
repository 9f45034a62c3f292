package runtime

import (
	"fmt"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/resolver"
)

// wiring decides which present modules can have every mandatory
// requirement satisfied at the same time.
type wiring struct {
	filters *resolver.FilterCompiler
	cache   map[string]*resolver.Filter
}

func newWiring() (*wiring, error) {
	fc, err := resolver.NewFilterCompiler()
	if err != nil {
		return nil, err
	}
	return &wiring{filters: fc, cache: make(map[string]*resolver.Filter)}, nil
}

// resolvable returns the IDs of the non-bootstrap modules that resolve
// against each other and the system offerings. A module whose provider is
// itself unresolvable drops out too, so the set is computed to a fixpoint.
func (w *wiring) resolvable(records []engine.ModuleRecord, system []engine.Capability) map[int64]bool {
	ok := make(map[int64]bool, len(records))
	for _, rec := range records {
		if !rec.IsBootstrap() && rec.State.IsPresent() {
			ok[rec.ID] = true
		}
	}

	for changed := true; changed; {
		changed = false
		offers := append([]engine.Capability(nil), system...)
		var hosts []engine.ModuleRecord
		for _, rec := range records {
			if ok[rec.ID] {
				offers = append(offers, rec.Provides...)
				hosts = append(hosts, rec)
			}
		}

		for _, rec := range records {
			if !ok[rec.ID] {
				continue
			}
			if w.missing(rec, offers, hosts) != "" {
				delete(ok, rec.ID)
				changed = true
			}
		}
	}
	return ok
}

// missing names the first unsatisfied mandatory requirement of rec, or
// returns "" when rec resolves against offers and hosts.
func (w *wiring) missing(rec engine.ModuleRecord, offers []engine.Capability, hosts []engine.ModuleRecord) string {
	if ext, ok := rec.Extension(); ok {
		found := false
		for _, h := range hosts {
			if h.ID != rec.ID && h.Name == ext.Host && ext.HostRange.Contains(h.Version) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("host %s;version=%s", ext.Host, ext.HostRange)
		}
	}

	for _, req := range rec.Requires {
		if req.Optional {
			continue
		}
		if !w.offered(req, offers) {
			return req.String()
		}
	}
	return ""
}

func (w *wiring) offered(req engine.Requirement, offers []engine.Capability) bool {
	var filter *resolver.Filter
	if req.Filter != "" {
		f, err := w.compile(req.Filter)
		if err != nil {
			return false
		}
		filter = f
	}
	for _, c := range offers {
		if req.Matches(c) && (filter == nil || filter.Match(c)) {
			return true
		}
	}
	return false
}

func (w *wiring) compile(expr string) (*resolver.Filter, error) {
	if f, ok := w.cache[expr]; ok {
		return f, nil
	}
	f, err := w.filters.Compile(expr)
	if err != nil {
		return nil, err
	}
	w.cache[expr] = f
	return f, nil
}
