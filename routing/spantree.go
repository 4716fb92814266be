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

package routing

import (
	"github.com/lanworks/dynaroute/topology"
)

// PortID identifies one attachment point of one element.
type PortID struct {
	Element string
	Port    uint32
}

// BlockedPorts computes a minimum spanning forest over the snapshot with
// Kruskal's algorithm and returns the ports of every non-tree link. Flooding
// must skip these ports to keep broadcast traffic from circulating on cyclic
// topologies. Both endpoints of a non-tree link are blocked.
//
// This is computed unilaterally from the local topology view, not negotiated
// with peers: the control plane already has global visibility, so no
// root-bridge election is needed. The function is pure and deterministic; the
// snapshot's edge list is pre-sorted by (weight, A, B), which fixes the tie
// break between equal-weight edges.
func BlockedPorts(snapshot *topology.Snapshot) map[PortID]bool {
	blocked := make(map[PortID]bool)
	if len(snapshot.Nodes()) < 2 {
		return blocked
	}

	forest := newUnionFind(snapshot.Nodes())
	for _, e := range snapshot.Edges() {
		if forest.union(e.A, e.B) {
			// Tree edge.
			continue
		}
		blocked[PortID{Element: e.A, Port: e.PortA}] = true
		blocked[PortID{Element: e.B, Port: e.PortB}] = true
	}

	return blocked
}

// unionFind is a disjoint-set structure with path compression and union by
// rank, used to detect cycle-closing edges during forest construction.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind(nodes []string) *unionFind {
	u := &unionFind{
		parent: make(map[string]string, len(nodes)),
		rank:   make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		u.parent[n] = n
	}

	return u
}

func (u *unionFind) find(n string) string {
	for u.parent[n] != n {
		u.parent[n] = u.parent[u.parent[n]]
		n = u.parent[n]
	}

	return n
}

// union merges the components of a and b. It returns false if they were
// already connected, i.e. the edge between them closes a cycle.
func (u *unionFind) union(a, b string) bool {
	rootA := u.find(a)
	rootB := u.find(b)
	if rootA == rootB {
		return false
	}
	if u.rank[rootA] < u.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	if u.rank[rootA] == u.rank[rootB] {
		u.rank[rootA]++
	}

	return true
}
