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

import "time"

// CommandSink receives forwarding commands produced by the controller. The
// transport layer implements it against whatever control protocol the
// elements speak; the controller never blocks on it, so implementations are
// expected to enqueue and return.
type CommandSink interface {
	// InstallRule installs a persistent forwarding rule on the element:
	// frames matching (matchSrc, matchDst) are sent out outPort. The rule
	// carries a soft timeout after which the element drops it on its own.
	InstallRule(element, matchSrc, matchDst string, outPort uint32, timeout time.Duration) error

	// WithdrawRules removes installed rules matching (matchSrc, matchDst)
	// from the element. An empty match string is a wildcard.
	WithdrawRules(element, matchSrc, matchDst string) error

	// EmitNow forwards the frame identified by payloadRef out the given
	// ports immediately, without installing any rule.
	EmitNow(element string, outPorts []uint32, payloadRef string) error
}
