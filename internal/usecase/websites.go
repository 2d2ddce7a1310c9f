// Package usecase contains application business logic.
package usecase

import (
	"sort"
	"sync"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// WebsiteTracker is the registry of open browser tabs, keyed by domain.
// Snapshots replace the registry wholesale under the write lock.
type WebsiteTracker struct {
	mu      sync.RWMutex
	domains map[string]map[string]struct{}
}

// NewWebsiteTracker creates an empty website tracker.
func NewWebsiteTracker() *WebsiteTracker {
	return &WebsiteTracker{
		domains: make(map[string]map[string]struct{}),
	}
}

// UpdateUrls replaces the registry with the given snapshot of open tab URLs.
func (w *WebsiteTracker) UpdateUrls(urls []string) {
	next := make(map[string]map[string]struct{}, len(urls))
	for _, u := range urls {
		d := domain.NormalizeDomain(u)
		if d == "" {
			continue
		}
		set, ok := next[d]
		if !ok {
			set = make(map[string]struct{})
			next[d] = set
		}
		set[u] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.domains = next
}

// IsDomainActive reports whether any open tab is on the domain of the input.
func (w *WebsiteTracker) IsDomainActive(domainOrURL string) bool {
	d := domain.NormalizeDomain(domainOrURL)

	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.domains[d]) > 0
}

// Snapshot returns a copy of the registry with sorted URL lists.
func (w *WebsiteTracker) Snapshot() map[string][]string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string][]string, len(w.domains))
	for d, set := range w.domains {
		urls := make([]string, 0, len(set))
		for u := range set {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		out[d] = urls
	}
	return out
}

// Len returns the number of active domains.
func (w *WebsiteTracker) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.domains)
}

var (
	_ domain.WebsiteActivity = (*WebsiteTracker)(nil)
	_ domain.TabUpdater      = (*WebsiteTracker)(nil)
)
