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

package topology

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/superkkt/go-logging"
)

var (
	logger = logging.MustGetLogger("topology")

	ErrNegativeWeight = errors.New("negative link weight")
	ErrSelfLoop       = errors.New("link endpoints are the same element")
)

// ConflictError is returned by AddLink when a port is already bound to a
// different peer. The first-registered link wins; the caller is expected to
// log and discard the conflicting announcement.
type ConflictError struct {
	Element      string
	Port         uint32
	ExistingPeer string
	ExistingPort uint32
	ClaimedPeer  string
	ClaimedPort  uint32
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("port %v:%v already bound to %v:%v, conflicting announcement claims %v:%v",
		e.Element, e.Port, e.ExistingPeer, e.ExistingPort, e.ClaimedPeer, e.ClaimedPort)
}

// binding is one direction of a link: the local port it occupies and the
// remote (element, port) it connects to. The Store keeps both directions
// consistent at all times.
type binding struct {
	peer     string
	peerPort uint32
	weight   int64
}

type element struct {
	// Port inventory announced by the element itself. Bound link ports are
	// merged in so the flood set never misses an inter-element port.
	ports map[uint32]bool
	// Bound ports, keyed by local port number.
	bindings map[uint32]binding
}

// Store holds the current undirected graph of network elements and links.
// All mutating calls bump a monotonic version counter so that dependent
// components can detect staleness without change-event plumbing.
type Store struct {
	mutex    sync.RWMutex
	elements map[string]*element
	version  uint64
}

func NewStore() *Store {
	return &Store{
		elements: make(map[string]*element),
	}
}

// Version returns the current topology version. The counter increments on
// every effective mutation; idempotent re-announcements do not bump it.
func (r *Store) Version() uint64 {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.version
}

// AddElement registers a node with no links. Idempotent.
func (r *Store) AddElement(id string) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.elements[id]; ok {
		return
	}
	r.elements[id] = newElement()
	r.version++
}

func newElement() *element {
	return &element{
		ports:    make(map[uint32]bool),
		bindings: make(map[uint32]binding),
	}
}

// SetPorts records an element's current port inventory, registering the
// element if it is not yet known. Ports absent from the inventory leave the
// flood set, except ports still bound to a link, which are kept until the
// link itself is removed.
func (r *Store) SetPorts(id string, ports []uint32) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	elem, ok := r.elements[id]
	if !ok {
		elem = newElement()
		r.elements[id] = elem
	}
	changed := !ok
	inventory := make(map[uint32]bool, len(ports))
	for _, p := range ports {
		inventory[p] = true
		if !elem.ports[p] {
			elem.ports[p] = true
			changed = true
		}
	}
	for p := range elem.ports {
		if inventory[p] {
			continue
		}
		if _, bound := elem.bindings[p]; bound {
			continue
		}
		delete(elem.ports, p)
		changed = true
	}
	if changed {
		r.version++
	}
}

// AddLink inserts the undirected edge elemA:portA <-> elemB:portB. Unknown
// elements are registered on the fly. Re-announcing an identical link is a
// no-op. If either port is already bound to a different peer, the store is
// left untouched and a *ConflictError is returned.
func (r *Store) AddLink(elemA string, portA uint32, elemB string, portB uint32, weight int64) error {
	if weight < 0 {
		return ErrNegativeWeight
	}
	if elemA == elemB {
		return ErrSelfLoop
	}

	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Conflict checks run before any mutation so that a rejected
	// announcement leaves the store untouched.
	a := r.elements[elemA]
	b := r.elements[elemB]

	if a != nil {
		if bind, ok := a.bindings[portA]; ok && (bind.peer != elemB || bind.peerPort != portB) {
			return &ConflictError{
				Element:      elemA,
				Port:         portA,
				ExistingPeer: bind.peer,
				ExistingPort: bind.peerPort,
				ClaimedPeer:  elemB,
				ClaimedPort:  portB,
			}
		}
	}
	if b != nil {
		if bind, ok := b.bindings[portB]; ok && (bind.peer != elemA || bind.peerPort != portA) {
			return &ConflictError{
				Element:      elemB,
				Port:         portB,
				ExistingPeer: bind.peer,
				ExistingPort: bind.peerPort,
				ClaimedPeer:  elemA,
				ClaimedPort:  portA,
			}
		}
	}

	// Identical re-announcement?
	if a != nil {
		if bind, ok := a.bindings[portA]; ok && bind.weight == weight {
			return nil
		}
	}

	if a == nil {
		a = newElement()
		r.elements[elemA] = a
	}
	if b == nil {
		b = newElement()
		r.elements[elemB] = b
	}

	a.bindings[portA] = binding{peer: elemB, peerPort: portB, weight: weight}
	a.ports[portA] = true
	b.bindings[portB] = binding{peer: elemA, peerPort: portA, weight: weight}
	b.ports[portB] = true
	r.version++

	logger.Debugf("link added: %v:%v <-> %v:%v (weight=%v)", elemA, portA, elemB, portB, weight)

	return nil
}

// RemoveLink removes every edge between elemA and elemB. Idempotent; a no-op
// if no such edge exists.
func (r *Store) RemoveLink(elemA, elemB string) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, ok := r.elements[elemA]
	if !ok {
		return
	}
	b, ok := r.elements[elemB]
	if !ok {
		return
	}

	removed := false
	for port, bind := range a.bindings {
		if bind.peer != elemB {
			continue
		}
		delete(a.bindings, port)
		delete(b.bindings, bind.peerPort)
		removed = true
	}
	if removed {
		r.version++
		logger.Debugf("link removed: %v <-> %v", elemA, elemB)
	}
}

// RemoveLinkByPort removes the link bound to elem:port, if any. Used when a
// loss report identifies the link by one endpoint only.
func (r *Store) RemoveLinkByPort(elem string, port uint32) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, ok := r.elements[elem]
	if !ok {
		return
	}
	bind, ok := a.bindings[port]
	if !ok {
		return
	}
	delete(a.bindings, port)
	if b, ok := r.elements[bind.peer]; ok {
		delete(b.bindings, bind.peerPort)
	}
	r.version++

	logger.Debugf("link removed: %v:%v <-> %v:%v", elem, port, bind.peer, bind.peerPort)
}

// RemoveElement removes the element and all incident links. Idempotent.
func (r *Store) RemoveElement(id string) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	elem, ok := r.elements[id]
	if !ok {
		return
	}
	for _, bind := range elem.bindings {
		if peer, ok := r.elements[bind.peer]; ok {
			delete(peer.bindings, bind.peerPort)
		}
	}
	delete(r.elements, id)
	r.version++

	logger.Debugf("element removed: %v", id)
}

// Ports returns the element's known ports in ascending order, or nil if the
// element is unknown.
func (r *Store) Ports(id string) []uint32 {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	elem, ok := r.elements[id]
	if !ok {
		return nil
	}
	ports := make([]uint32, 0, len(elem.ports))
	for p := range elem.ports {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	return ports
}

func (r *Store) String() string {
	snapshot := r.Snapshot()

	v := fmt.Sprintf("topology version=%v, elements=%v, links=%v\n",
		snapshot.Version(), len(snapshot.Nodes()), len(snapshot.Edges()))
	for _, e := range snapshot.Edges() {
		v += fmt.Sprintf("\t%v:%v <-> %v:%v (weight=%v)\n", e.A, e.PortA, e.B, e.PortB, e.Weight)
	}

	return v
}
