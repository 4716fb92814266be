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

package network

// Events delivered by the transport layer. Each element connection runs on
// its own goroutine and only enqueues; the controller's run loop is the
// single consumer, which serializes all state mutation. Events from one
// connection arrive in order; no ordering holds across connections, and the
// handlers are written to be correct under arbitrary interleaving.
type event interface{}

type elementConnected struct {
	id    string
	ports []uint32
}

type elementDisconnected struct {
	id string
}

type linkObserved struct {
	elemA string
	portA uint32
	elemB string
	portB uint32
}

type linkLost struct {
	elem string
	port uint32
}

type frameArrived struct {
	elem        string
	inPort      uint32
	src         string
	dst         string
	broadcast   bool
	fingerprint string
}
