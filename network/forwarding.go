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
	"strings"
	"time"

	"github.com/lanworks/dynaroute/config"
	"github.com/lanworks/dynaroute/routing"
	"github.com/lanworks/dynaroute/topology"
)

const (
	broadcastAddress = "ff:ff:ff:ff:ff:ff"
	zeroAddress      = "00:00:00:00:00:00"
)

// handleFrame runs the forwarding pipeline for one unmatched frame: learn the
// source location, resolve the destination, then either forward along the
// shortest path, route toward a gateway, or flood within the spanning forest.
func (r *Controller) handleFrame(ev frameArrived) {
	if !r.cfg.Manages(ev.elem) {
		return
	}
	metrics.framesTotal.Inc()

	// Frames arriving on a loop-prevention blocked port are dropped outright;
	// the peer element floods the same frame on its tree ports.
	if r.blocked[routing.PortID{Element: ev.elem, Port: ev.inPort}] {
		metrics.framesDropped.WithLabelValues("blocked_port").Inc()
		return
	}

	if learnable(ev.src) {
		r.table.Learn(ev.src, ev.elem, ev.inPort)
	}

	if ev.broadcast {
		r.floodFrame(ev)
		return
	}

	location, ok := r.table.Lookup(ev.dst)
	if !ok {
		if gateway, ok := r.gatewayFor(ev.dst); ok {
			r.forwardToGateway(ev, gateway)
			return
		}
		logger.Debugf("unknown destination %v, flooding from %v:%v", ev.dst, ev.elem, ev.inPort)
		r.floodFrame(ev)
		return
	}

	if location.Element == ev.elem {
		// Source and destination share the element; a single local rule is
		// enough.
		if location.Port == ev.inPort {
			// The destination sits behind the ingress port. Nothing to do.
			return
		}
		r.installRule(ev.elem, ev.src, ev.dst, location.Port)
		r.emit(ev.elem, []uint32{location.Port}, ev.fingerprint)
		return
	}

	r.forwardVia(ev, location.Element, location.Port)
}

// forwardToGateway routes a frame for a peer-domain destination toward the
// configured gateway element. When the frame is already at the gateway, the
// rule's egress port carries it across the domain boundary; without one the
// frame is flooded there like any unknown destination.
func (r *Controller) forwardToGateway(ev frameArrived, gateway config.GatewayRule) {
	if gateway.Element == ev.elem {
		if gateway.Port != 0 && gateway.Port != ev.inPort {
			r.installRule(ev.elem, ev.src, ev.dst, gateway.Port)
			r.emit(ev.elem, []uint32{gateway.Port}, ev.fingerprint)
			return
		}
		r.floodFrame(ev)
		return
	}
	r.forwardVia(ev, gateway.Element, gateway.Port)
}

// forwardVia installs the shortest path from the ingress element to dstElem
// and forwards the triggering frame along its first hop. dstPort is the
// destination's attachment port on dstElem, or the gateway egress port for
// cross-domain traffic; zero means no final-hop rule is installed there.
func (r *Controller) forwardVia(ev frameArrived, dstElem string, dstPort uint32) {
	snapshot := r.topo.Snapshot()
	path, ok := r.lookupPath(snapshot, ev.src, ev.dst, ev.elem, dstElem)
	if !ok {
		// Expected during partitions. The next frame of this flow retries
		// against the then-current graph; no state to clean up.
		logger.Debugf("no path from %v to %v, dropping frame %v -> %v",
			ev.elem, dstElem, ev.src, ev.dst)
		metrics.framesDropped.WithLabelValues("unreachable").Inc()
		return
	}

	// Install a rule on every element along the path, each pointing at the
	// next element's port. Walking back to front means the ingress rule comes
	// last, after the downstream rules exist.
	for i := len(path) - 2; i >= 0; i-- {
		outPort, ok := snapshot.PortTo(path[i], path[i+1])
		if !ok {
			logger.Errorf("no port from %v to %v on computed path, dropping", path[i], path[i+1])
			r.paths.Delete(flowKey{src: ev.src, dst: ev.dst}.cacheKey())
			return
		}
		r.installRule(path[i], ev.src, ev.dst, outPort)
	}
	if dstPort != 0 {
		r.installRule(dstElem, ev.src, ev.dst, dstPort)
	}

	firstHop, ok := snapshot.PortTo(path[0], path[1])
	if !ok {
		return
	}
	r.emit(ev.elem, []uint32{firstHop}, ev.fingerprint)
}

// lookupPath returns the cached path for the flow if it was computed against
// the current topology version and the same endpoint elements, otherwise
// recomputes and caches it. Validating the endpoints matters because a host
// relocation moves a flow's destination without any topology change; the
// version alone would keep serving the path to the old attachment. A path of
// length one (src and dst co-located) never reaches here.
func (r *Controller) lookupPath(snapshot *topology.Snapshot, src, dst, from, to string) ([]string, bool) {
	key := flowKey{src: src, dst: dst}
	if v, ok := r.paths.Get(key.cacheKey()); ok {
		cached := v.(cachedPath)
		if cached.version == snapshot.Version() && cached.from == from && cached.to == to {
			return cached.path, true
		}
	}

	path, ok := routing.ShortestPath(snapshot, from, to)
	if !ok || len(path) < 2 {
		r.paths.Delete(key.cacheKey())
		return nil, false
	}
	r.paths.SetDefault(key.cacheKey(), cachedPath{
		path:    path,
		version: snapshot.Version(),
		from:    from,
		to:      to,
	})
	logger.Debugf("path %v -> %v: %v (version=%v)", src, dst, path, snapshot.Version())

	return path, true
}

// floodFrame emits the frame out every port of the ingress element except the
// ingress port and any loop-prevention blocked port. No persistent rule is
// installed for undirected traffic. A dedup window keyed on the source and
// the frame fingerprint bounds broadcast amplification while the spanning
// forest has not yet converged.
func (r *Controller) floodFrame(ev frameArrived) {
	// Keyed per element: every element floods a given frame at most once per
	// window, which lets a broadcast propagate hop by hop but bounds
	// amplification if the spanning forest has not yet converged.
	key := ev.elem + "/" + ev.src + "/" + ev.fingerprint
	if _, seen := r.dedup.Get(key); seen {
		metrics.framesDropped.WithLabelValues("duplicate").Inc()
		return
	}
	r.dedup.SetDefault(key, struct{}{})

	var outPorts []uint32
	for _, port := range r.topo.Ports(ev.elem) {
		if port == ev.inPort {
			continue
		}
		if r.blocked[routing.PortID{Element: ev.elem, Port: port}] {
			continue
		}
		outPorts = append(outPorts, port)
	}
	if len(outPorts) == 0 {
		return
	}

	metrics.framesFlooded.Inc()
	r.emit(ev.elem, outPorts, ev.fingerprint)
}

// gatewayFor returns the gateway rule matching an unknown destination
// address, if any. First match wins.
func (r *Controller) gatewayFor(dst string) (config.GatewayRule, bool) {
	for _, g := range r.cfg.Gateways {
		if strings.HasPrefix(dst, g.Prefix) {
			return g, true
		}
	}

	return config.GatewayRule{}, false
}

func (r *Controller) installRule(elem, src, dst string, outPort uint32) {
	if err := r.sink.InstallRule(elem, src, dst, outPort, r.cfg.RuleTimeout.Duration); err != nil {
		logger.Errorf("failed to install rule on %v: %v", elem, err)
		return
	}
	metrics.rulesInstalled.Inc()

	flows, ok := r.rules[elem]
	if !ok {
		flows = make(map[flowKey]time.Time)
		r.rules[elem] = flows
	}
	now := time.Now()
	// Drop tracking for rules the element has already expired on its own, so
	// the per-element set stays bounded by the live rule count.
	for flow, installed := range flows {
		if now.Sub(installed) >= r.cfg.RuleTimeout.Duration {
			delete(flows, flow)
		}
	}
	flows[flowKey{src: src, dst: dst}] = now
}

func (r *Controller) emit(elem string, outPorts []uint32, payloadRef string) {
	if err := r.sink.EmitNow(elem, outPorts, payloadRef); err != nil {
		logger.Errorf("failed to emit frame on %v: %v", elem, err)
	}
}

// learnable filters source addresses that must never enter the host table.
func learnable(address string) bool {
	return address != "" && address != broadcastAddress && address != zeroAddress
}
