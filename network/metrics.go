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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metrics = struct {
	framesTotal     prometheus.Counter
	framesFlooded   prometheus.Counter
	framesDropped   *prometheus.CounterVec
	rulesInstalled  prometheus.Counter
	rulesWithdrawn  prometheus.Counter
	recomputeTotal  prometheus.Counter
	linkConflicts   prometheus.Counter
	topologyVersion prometheus.Gauge
}{
	framesTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "frames_total",
		Help:      "Frames processed by the forwarding pipeline.",
	}),
	framesFlooded: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "frames_flooded_total",
		Help:      "Frames flooded on spanning-forest ports.",
	}),
	framesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped, by reason.",
	}, []string{"reason"}),
	rulesInstalled: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "rules_installed_total",
		Help:      "Forwarding rules installed on elements.",
	}),
	rulesWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "rules_withdrawn_total",
		Help:      "Forwarding rules withdrawn after topology changes.",
	}),
	recomputeTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "loop_prevention_recomputes_total",
		Help:      "Debounced loop-prevention recomputations.",
	}),
	linkConflicts: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dynaroute",
		Name:      "link_conflicts_total",
		Help:      "Contradictory link announcements discarded.",
	}),
	topologyVersion: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dynaroute",
		Name:      "topology_version",
		Help:      "Monotonic topology version counter.",
	}),
}
