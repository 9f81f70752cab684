// internal/browser/pages.go
package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"
)

type page struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
	// ready flips once the tab is foregrounded and its document has
	// settled. A pending tab is never served while a ready one exists.
	ready bool
}

// pageRegistry tracks the open tabs in creation order. The active page is
// the most recently registered ready tab; removing it promotes the previous
// one.
type pageRegistry struct {
	mu     sync.Mutex
	pages  []*page
	logger *zap.Logger
}

func newPageRegistry(logger *zap.Logger) *pageRegistry {
	return &pageRegistry{logger: logger.Named("pages")}
}

// register adds a tab that is already controllable.
func (r *pageRegistry) register(id target.ID, ctx context.Context, cancel context.CancelFunc) {
	r.add(id, ctx, cancel, true)
}

// registerPending adds a freshly created tab that must settle before it can
// take over as the active page.
func (r *pageRegistry) registerPending(id target.ID, ctx context.Context, cancel context.CancelFunc) {
	r.add(id, ctx, cancel, false)
}

func (r *pageRegistry) add(id target.ID, ctx context.Context, cancel context.CancelFunc, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pages {
		if p.id == id {
			return
		}
	}
	r.pages = append(r.pages, &page{id: id, ctx: ctx, cancel: cancel, ready: ready})
}

// markReady promotes a pending tab to controllable. Reports whether the tab
// is still registered.
func (r *pageRegistry) markReady(id target.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pages {
		if p.id == id {
			p.ready = true
			return true
		}
	}
	return false
}

func (r *pageRegistry) has(id target.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pages {
		if p.id == id {
			return true
		}
	}
	return false
}

// remove drops the tab and reports whether it was the one active would have
// served.
func (r *pageRegistry) remove(id target.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pages {
		if p.id != id {
			continue
		}
		wasActive := r.activeLocked() == p
		p.cancel()
		r.pages = append(r.pages[:i], r.pages[i+1:]...)
		return wasActive
	}
	return false
}

func (r *pageRegistry) active() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.activeLocked()
	if p == nil {
		return nil, ErrNoActivePage
	}
	return p.ctx, nil
}

// activeLocked picks the newest ready tab. When every live tab is still
// settling the newest one is served anyway; a live tab beats ErrNoActivePage.
func (r *pageRegistry) activeLocked() *page {
	for i := len(r.pages) - 1; i >= 0; i-- {
		if r.pages[i].ready {
			return r.pages[i]
		}
	}
	if len(r.pages) > 0 {
		return r.pages[len(r.pages)-1]
	}
	return nil
}

func (r *pageRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pages {
		p.cancel()
	}
	r.pages = nil
}
