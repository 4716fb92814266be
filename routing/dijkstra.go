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

// Package routing computes forwarding paths and loop-free flooding sets over
// immutable topology snapshots. All functions are pure: they never mutate the
// snapshot and return identical results for identical inputs, so callers may
// recompute freely without risking oscillation.
package routing

import (
	"container/heap"
	"math"

	"github.com/lanworks/dynaroute/topology"
)

// ShortestPath computes the minimum-weight path from src to dst over the
// snapshot using Dijkstra's algorithm with a lazy-decrease-key heap,
// O((V+E) log V). Ties are broken by element ID so that repeated computation
// on an unchanged graph always returns the same path.
//
// The second return value is false when dst is unreachable from src or either
// endpoint is unknown. That is an expected condition (e.g. during a
// partition), not an error. For src == dst the trivial single-element path is
// returned.
func ShortestPath(snapshot *topology.Snapshot, src, dst string) ([]string, bool) {
	if !snapshot.HasNode(src) || !snapshot.HasNode(dst) {
		return nil, false
	}
	if src == dst {
		return []string{src}, true
	}

	dist := make(map[string]int64, len(snapshot.Nodes()))
	prev := make(map[string]string, len(snapshot.Nodes()))
	visited := make(map[string]bool, len(snapshot.Nodes()))

	pq := nodeQueue{{id: src, dist: 0}}
	heap.Init(&pq)
	dist[src] = 0

	for pq.Len() > 0 {
		item := heap.Pop(&pq).(nodeItem)
		if visited[item.id] {
			// Stale entry left behind by lazy decrease-key.
			continue
		}
		visited[item.id] = true
		if item.id == dst {
			break
		}

		for _, n := range snapshot.Neighbors(item.id) {
			if visited[n.Peer] {
				continue
			}
			candidate := item.dist + n.Weight
			best, known := dist[n.Peer]
			if !known {
				best = math.MaxInt64
			}
			// Strict improvement only. Equal-cost candidates keep the first
			// relaxation, which is deterministic because neighbor lists are
			// sorted by peer ID.
			if candidate >= best {
				continue
			}
			dist[n.Peer] = candidate
			prev[n.Peer] = item.id
			heap.Push(&pq, nodeItem{id: n.Peer, dist: candidate})
		}
	}

	if !visited[dst] {
		return nil, false
	}

	path := []string{dst}
	for at := dst; at != src; at = prev[at] {
		path = append(path, prev[at])
	}
	// Reverse into src..dst order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path, true
}

type nodeItem struct {
	id   string
	dist int64
}

// nodeQueue is a min-heap of nodeItem ordered by (dist, id). Ordering on the
// ID as well keeps extraction order stable across runs.
type nodeQueue []nodeItem

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].id < q[j].id
}

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x interface{}) { *q = append(*q, x.(nodeItem)) }

func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]

	return item
}
