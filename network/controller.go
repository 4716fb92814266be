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
	"context"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/superkkt/go-logging"

	"github.com/lanworks/dynaroute/config"
	"github.com/lanworks/dynaroute/hosts"
	"github.com/lanworks/dynaroute/routing"
	"github.com/lanworks/dynaroute/topology"
)

var (
	logger = logging.MustGetLogger("network")
)

const (
	eventQueueLength  = 512
	defaultLinkWeight = 1
)

type flowKey struct {
	src string
	dst string
}

func (k flowKey) cacheKey() string {
	return k.src + "|" + k.dst
}

type cachedPath struct {
	path    []string
	version uint64
	from    string
	to      string
}

// Controller is the forwarding control plane for one domain. It consumes
// topology-change and frame-arrival events, maintains the topology store and
// host location table, and emits forwarding commands through a CommandSink.
//
// All state below is owned by the Run loop; the only entry points safe for
// concurrent use are the On* enqueue methods.
type Controller struct {
	cfg   config.Config
	sink  CommandSink
	topo  *topology.Store
	table *hosts.Table
	dedup *cache.Cache

	events chan event

	// Loop-prevention result from the last debounced recompute.
	blocked map[routing.PortID]bool
	// Last installed path per flow, invalidated by topology version or
	// endpoint relocation. TTL-bounded: flow addresses are not trusted input,
	// so the cache must not grow per distinct address pair.
	paths *cache.Cache
	// Installed rules per element with their install time, for withdrawal on
	// topology change. Entries past the soft timeout have already been
	// dropped by the element itself.
	rules map[string]map[flowKey]time.Time
}

// New creates a controller. The sink must not be nil.
func New(cfg config.Config, sink CommandSink) (*Controller, error) {
	if sink == nil {
		panic("Sink is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	table, err := hosts.NewTable(cfg.HostTableSize)
	if err != nil {
		return nil, err
	}

	logger.Debugf("controller config: %v", spew.Sdump(cfg))

	return &Controller{
		cfg:     cfg,
		sink:    sink,
		topo:    topology.NewStore(),
		table:   table,
		dedup:   cache.New(cfg.DedupWindow.Duration, 2*cfg.DedupWindow.Duration),
		events:  make(chan event, eventQueueLength),
		blocked: make(map[routing.PortID]bool),
		paths:   cache.New(cfg.RuleTimeout.Duration, 2*cfg.RuleTimeout.Duration),
		rules:   make(map[string]map[flowKey]time.Time),
	}, nil
}

// Topology returns the controller's topology store. Read-only use; all
// mutation flows through the event queue.
func (r *Controller) Topology() *topology.Store {
	return r.topo
}

// OnElementConnected enqueues the arrival of an element and its port
// inventory.
func (r *Controller) OnElementConnected(id string, ports []uint32) {
	r.events <- elementConnected{id: id, ports: ports}
}

// OnElementDisconnected enqueues the loss of an element and all its links.
func (r *Controller) OnElementDisconnected(id string) {
	r.events <- elementDisconnected{id: id}
}

// OnLinkObserved enqueues a discovered link between two element ports.
func (r *Controller) OnLinkObserved(elemA string, portA uint32, elemB string, portB uint32) {
	r.events <- linkObserved{elemA: elemA, portA: portA, elemB: elemB, portB: portB}
}

// OnLinkLost enqueues the loss of the link attached to elem:port.
func (r *Controller) OnLinkLost(elem string, port uint32) {
	r.events <- linkLost{elem: elem, port: port}
}

// OnFrameArrived enqueues an unmatched frame reported by an element.
func (r *Controller) OnFrameArrived(elem string, inPort uint32, src, dst string, broadcast bool, fingerprint string) {
	r.events <- frameArrived{
		elem:        elem,
		inPort:      inPort,
		src:         src,
		dst:         dst,
		broadcast:   broadcast,
		fingerprint: fingerprint,
	}
}

// Run consumes events until the context is cancelled. It is the single
// serialization point: topology and host table mutations, path computation,
// and command emission all happen here, so no event ever observes a graph
// mutating mid-computation.
func (r *Controller) Run(ctx context.Context) {
	debounce := time.NewTimer(r.cfg.DebounceWindow.Duration)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	logger.Infof("controller started (managed elements=%v, loop prevention=%v)",
		len(r.cfg.ManagedElements), r.cfg.LoopPrevention)

	for {
		select {
		case <-ctx.Done():
			logger.Info("controller stopped")
			return
		case <-debounce.C:
			r.recomputeLoopPrevention()
		case ev := <-r.events:
			if r.handle(ev) {
				// Topology changed: restart the quiescence window.
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(r.cfg.DebounceWindow.Duration)
			}
		}
	}
}

// handle dispatches one event. It reports whether the topology changed, which
// resets the loop-prevention debounce timer.
func (r *Controller) handle(ev event) bool {
	switch ev := ev.(type) {
	case elementConnected:
		return r.handleElementConnected(ev)
	case elementDisconnected:
		return r.handleElementDisconnected(ev)
	case linkObserved:
		return r.handleLinkObserved(ev)
	case linkLost:
		return r.handleLinkLost(ev)
	case frameArrived:
		r.handleFrame(ev)
		return false
	default:
		panic("unknown event type")
	}
}

func (r *Controller) handleElementConnected(ev elementConnected) bool {
	if !r.cfg.Manages(ev.id) {
		logger.Debugf("ignoring unmanaged element: %v", ev.id)
		return false
	}

	before := r.topo.Version()
	r.topo.AddElement(ev.id)
	r.topo.SetPorts(ev.id, ev.ports)
	if r.topo.Version() == before {
		return false
	}

	logger.Infof("element connected: %v (%v ports)", ev.id, len(ev.ports))
	metrics.topologyVersion.Set(float64(r.topo.Version()))

	return true
}

func (r *Controller) handleElementDisconnected(ev elementDisconnected) bool {
	// Capture adjacency before removal so we know whose rules to withdraw.
	snapshot := r.topo.Snapshot()
	if !snapshot.HasNode(ev.id) {
		return false
	}
	affected := []string{ev.id}
	for _, n := range snapshot.Neighbors(ev.id) {
		affected = append(affected, n.Peer)
	}

	r.topo.RemoveElement(ev.id)
	logger.Infof("element disconnected: %v", ev.id)
	metrics.topologyVersion.Set(float64(r.topo.Version()))
	r.invalidate(affected)

	return true
}

func (r *Controller) handleLinkObserved(ev linkObserved) bool {
	if !r.cfg.Manages(ev.elemA) && !r.cfg.Manages(ev.elemB) {
		return false
	}

	before := r.topo.Version()
	err := r.topo.AddLink(ev.elemA, ev.portA, ev.elemB, ev.portB, defaultLinkWeight)
	if err != nil {
		// A contradictory announcement is a data-quality condition, not a
		// fatal one. The first-registered link wins.
		logger.Errorf("discarding link announcement: %v", err)
		metrics.linkConflicts.Inc()
		return false
	}
	if r.topo.Version() == before {
		// Identical re-announcement.
		return false
	}

	logger.Infof("link observed: %v:%v <-> %v:%v", ev.elemA, ev.portA, ev.elemB, ev.portB)
	metrics.topologyVersion.Set(float64(r.topo.Version()))
	r.invalidate([]string{ev.elemA, ev.elemB})

	return true
}

func (r *Controller) handleLinkLost(ev linkLost) bool {
	// Resolve the peer before the link disappears from the store.
	snapshot := r.topo.Snapshot()
	affected := []string{ev.elem}
	for _, n := range snapshot.Neighbors(ev.elem) {
		if n.LocalPort == ev.port {
			affected = append(affected, n.Peer)
			break
		}
	}

	before := r.topo.Version()
	r.topo.RemoveLinkByPort(ev.elem, ev.port)
	if r.topo.Version() == before {
		return false
	}

	logger.Infof("link lost: %v:%v", ev.elem, ev.port)
	metrics.topologyVersion.Set(float64(r.topo.Version()))
	r.invalidate(affected)

	return true
}

// invalidate withdraws every rule installed on the affected elements and
// forgets their flows' cached paths. Withdrawing per adjacent element is a
// bounded strategy: rules further along a broken path age out via their soft
// timeout, and the next frame of each flow retriggers path computation on the
// current graph.
func (r *Controller) invalidate(elements []string) {
	now := time.Now()
	for _, elem := range elements {
		flows := r.rules[elem]
		if len(flows) == 0 {
			continue
		}
		for flow, installed := range flows {
			r.paths.Delete(flow.cacheKey())
			if now.Sub(installed) >= r.cfg.RuleTimeout.Duration {
				// The soft timeout already dropped this rule on the element.
				continue
			}
			if err := r.sink.WithdrawRules(elem, flow.src, flow.dst); err != nil {
				logger.Errorf("failed to withdraw rules on %v: %v", elem, err)
			}
			metrics.rulesWithdrawn.Inc()
		}
		delete(r.rules, elem)
	}
}

// recomputeLoopPrevention runs after topology events have quiesced for the
// debounce window. It is skipped while the graph is still smaller than the
// expected element count, so a half-discovered topology does not toggle
// blocked ports back and forth.
func (r *Controller) recomputeLoopPrevention() {
	if !r.cfg.LoopPrevention {
		return
	}

	snapshot := r.topo.Snapshot()
	if len(snapshot.Nodes()) == 0 {
		return
	}
	if r.cfg.ExpectedElements > 0 && len(snapshot.Nodes()) < r.cfg.ExpectedElements {
		logger.Debugf("skipping loop-prevention recompute: %v of %v elements present",
			len(snapshot.Nodes()), r.cfg.ExpectedElements)
		return
	}

	r.blocked = routing.BlockedPorts(snapshot)
	metrics.recomputeTotal.Inc()

	logger.Infof("loop prevention recomputed: version=%v, blocked ports=%v",
		snapshot.Version(), len(r.blocked))
}

// BlockedPortCount reports the size of the current loop-prevention blocked
// set. Diagnostic only.
func (r *Controller) BlockedPortCount() int {
	return len(r.blocked)
}
