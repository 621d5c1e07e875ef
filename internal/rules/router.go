package rules

import (
	"sync/atomic"

	"github.com/goodtune/pac-router/internal/route"
)

// Router holds the live table. Lookups load the table pointer once, so each
// call sees either the whole old table or the whole new one.
type Router struct {
	table atomic.Pointer[Table]
}

// NewRouter returns a Router serving t. A nil t routes everything DIRECT
// until a table is installed.
func NewRouter(t *Table) *Router {
	r := &Router{}
	if t != nil {
		r.table.Store(t)
	}
	return r
}

// Install replaces the live table and returns the previous one.
func (r *Router) Install(t *Table) *Table {
	return r.table.Swap(t)
}

// Table returns the live table, or nil.
func (r *Router) Table() *Table {
	return r.table.Load()
}

// Route returns the route for a request against the live table.
func (r *Router) Route(rawURL, host string) route.Route {
	return r.Lookup(rawURL, host).Route
}

// Lookup is Route plus the deciding rule position.
func (r *Router) Lookup(rawURL, host string) Result {
	t := r.table.Load()
	if t == nil {
		return Result{Route: route.Direct(), Rule: -1}
	}
	return t.Lookup(rawURL, host)
}
