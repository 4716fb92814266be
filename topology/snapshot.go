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

import "sort"

// Neighbor is one adjacency as seen from a node: the peer element, the local
// and remote ports the link occupies, and the link weight.
type Neighbor struct {
	Peer      string
	LocalPort uint32
	PeerPort  uint32
	Weight    int64
}

// Edge is the canonical undirected form of a link, with A < B.
type Edge struct {
	A      string
	PortA  uint32
	B      string
	PortB  uint32
	Weight int64
}

// Snapshot is an immutable view of the graph at a single topology version.
// Nodes, neighbor lists, and edges are pre-sorted so that computations over a
// snapshot are deterministic. A snapshot is safe for concurrent use.
type Snapshot struct {
	version   uint64
	nodes     []string
	neighbors map[string][]Neighbor
	ports     map[string][]uint32
	edges     []Edge
}

// Snapshot returns an immutable view of the current graph. The copy is built
// under the store lock in O(V+E); consumers then compute lock-free.
func (r *Store) Snapshot() *Snapshot {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s := &Snapshot{
		version:   r.version,
		nodes:     make([]string, 0, len(r.elements)),
		neighbors: make(map[string][]Neighbor, len(r.elements)),
		ports:     make(map[string][]uint32, len(r.elements)),
	}
	for id, elem := range r.elements {
		s.nodes = append(s.nodes, id)

		neighbors := make([]Neighbor, 0, len(elem.bindings))
		for port, bind := range elem.bindings {
			neighbors = append(neighbors, Neighbor{
				Peer:      bind.peer,
				LocalPort: port,
				PeerPort:  bind.peerPort,
				Weight:    bind.weight,
			})
			// Each undirected edge is collected once, from its lower endpoint.
			if id < bind.peer || (id == bind.peer && port < bind.peerPort) {
				s.edges = append(s.edges, Edge{
					A:      id,
					PortA:  port,
					B:      bind.peer,
					PortB:  bind.peerPort,
					Weight: bind.weight,
				})
			}
		}
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].Peer != neighbors[j].Peer {
				return neighbors[i].Peer < neighbors[j].Peer
			}
			return neighbors[i].LocalPort < neighbors[j].LocalPort
		})
		s.neighbors[id] = neighbors

		ports := make([]uint32, 0, len(elem.ports))
		for p := range elem.ports {
			ports = append(ports, p)
		}
		sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
		s.ports[id] = ports
	}
	sort.Strings(s.nodes)
	sort.Slice(s.edges, func(i, j int) bool {
		if s.edges[i].Weight != s.edges[j].Weight {
			return s.edges[i].Weight < s.edges[j].Weight
		}
		if s.edges[i].A != s.edges[j].A {
			return s.edges[i].A < s.edges[j].A
		}
		if s.edges[i].B != s.edges[j].B {
			return s.edges[i].B < s.edges[j].B
		}
		return s.edges[i].PortA < s.edges[j].PortA
	})

	return s
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

// Nodes returns all element IDs in ascending order.
func (s *Snapshot) Nodes() []string {
	return s.nodes
}

func (s *Snapshot) HasNode(id string) bool {
	_, ok := s.neighbors[id]
	return ok
}

// Neighbors returns the adjacencies of id, sorted by peer element then local
// port. Nil if the element is unknown.
func (s *Snapshot) Neighbors(id string) []Neighbor {
	return s.neighbors[id]
}

// Edges returns every link once, sorted by (weight, A, B, PortA).
func (s *Snapshot) Edges() []Edge {
	return s.edges
}

// Ports returns the element's known ports in ascending order.
func (s *Snapshot) Ports(id string) []uint32 {
	return s.ports[id]
}

// PortTo returns the local port on elem that leads to peer. The second return
// value is false if no direct link exists.
func (s *Snapshot) PortTo(elem, peer string) (uint32, bool) {
	for _, n := range s.neighbors[elem] {
		if n.Peer == peer {
			return n.LocalPort, true
		}
	}
	return 0, false
}
