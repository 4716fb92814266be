/*
 * dynaroute - A dynamic shortest-path network control plane
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

// Package hosts tracks the last observed attachment point of each endpoint
// address. Learning is unconditional last-write-wins: endpoints move, and the
// control plane has no independent way to validate a claim, so the newest
// observation always replaces the old one. This matches the behavior of a
// learning switch and trades correctness under spoofing for simplicity.
package hosts

import (
	"fmt"

	"github.com/hashicorp/golang-lru/arc/v2"
	"github.com/pkg/errors"
	"github.com/superkkt/go-logging"
)

var logger = logging.MustGetLogger("hosts")

// Location is the (element, port) where an address was last observed.
type Location struct {
	Element string
	Port    uint32
}

func (l Location) String() string {
	return fmt.Sprintf("%v:%v", l.Element, l.Port)
}

// Table is a bounded host location table. Entries are evicted by an adaptive
// replacement cache, which keeps the table from growing without bound in
// long-running deployments while retaining frequently seen addresses.
// Staleness is acceptable: a moved endpoint is relearned from its next frame.
type Table struct {
	cache *arc.ARCCache[string, Location]
}

// NewTable creates a table bounded to size entries.
func NewTable(size int) (*Table, error) {
	cache, err := arc.NewARC[string, Location](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating host location cache")
	}

	return &Table{cache: cache}, nil
}

// Learn records address at the given attachment point, unconditionally
// overwriting any previous record. An endpoint has at most one attachment at
// a time in this model.
func (r *Table) Learn(address, element string, port uint32) {
	loc := Location{Element: element, Port: port}
	if old, ok := r.cache.Peek(address); ok && old != loc {
		logger.Debugf("host %v moved: %v -> %v", address, old, loc)
	}
	r.cache.Add(address, loc)
}

// Lookup returns the last known attachment of address.
func (r *Table) Lookup(address string) (Location, bool) {
	return r.cache.Get(address)
}

// Len returns the number of tracked addresses.
func (r *Table) Len() int {
	return r.cache.Len()
}
