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

// Package config defines the controller configuration. One configuration
// struct parameterizes a single controller implementation: which elements it
// owns, whether loop prevention runs, and how unknown destinations are routed
// toward peer control domains.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Defaults mirror the timings the controller was tuned with: a few seconds of
// topology quiescence before recomputing loop prevention, a two-second
// broadcast dedup window, and short-lived forwarding rules so that failures
// are detected quickly.
const (
	DefaultDebounceWindow = 3 * time.Second
	DefaultDedupWindow    = 2 * time.Second
	DefaultRuleTimeout    = 10 * time.Second
	DefaultHostTableSize  = 4096
)

// Duration wraps time.Duration so TOML can express intervals as strings like
// "3s" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrap(err, "parsing duration")
	}
	d.Duration = parsed

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// GatewayRule routes traffic for an unknown destination whose address matches
// Prefix toward Element, which is expected to bridge into a peer control
// domain. Port is the egress port on Element facing the peer domain; frames
// reaching the gateway are sent out of it. Zero means no egress port is
// known and such frames are flooded at the gateway instead. Rules are
// evaluated in order; the first match wins.
type GatewayRule struct {
	Prefix  string `toml:"prefix"`
	Element string `toml:"element"`
	Port    uint32 `toml:"port"`
}

type Config struct {
	// ManagedElements restricts the controller to the named elements. Empty
	// means every connecting element is managed.
	ManagedElements []string `toml:"managed_elements"`
	// ExpectedElements gates loop-prevention recomputation: the spanning
	// forest is not computed until at least this many elements are present,
	// so a partially discovered graph does not toggle blocked ports. Zero
	// disables the gate.
	ExpectedElements int  `toml:"expected_elements"`
	LoopPrevention   bool `toml:"loop_prevention"`

	DebounceWindow Duration `toml:"debounce_window"`
	DedupWindow    Duration `toml:"dedup_window"`
	RuleTimeout    Duration `toml:"rule_timeout"`
	HostTableSize  int      `toml:"host_table_size"`

	Gateways []GatewayRule `toml:"gateway"`
}

// Default returns a configuration with every tunable at its default: all
// elements managed, loop prevention on, no gateway rules.
func Default() Config {
	return Config{
		LoopPrevention: true,
		DebounceWindow: Duration{DefaultDebounceWindow},
		DedupWindow:    Duration{DefaultDedupWindow},
		RuleTimeout:    Duration{DefaultRuleTimeout},
		HostTableSize:  DefaultHostTableSize,
	}
}

// Load reads a TOML configuration from path on top of the defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}

	return Parse(bytes.NewReader(raw))
}

// Parse decodes a TOML configuration on top of the defaults and validates it.
// Unknown fields are rejected so that typos do not silently fall back to
// defaults.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DebounceWindow.Duration <= 0 {
		return fmt.Errorf("debounce_window must be positive: %v", c.DebounceWindow)
	}
	if c.DedupWindow.Duration <= 0 {
		return fmt.Errorf("dedup_window must be positive: %v", c.DedupWindow)
	}
	if c.RuleTimeout.Duration <= 0 {
		return fmt.Errorf("rule_timeout must be positive: %v", c.RuleTimeout)
	}
	if c.HostTableSize <= 0 {
		return fmt.Errorf("host_table_size must be positive: %v", c.HostTableSize)
	}
	if c.ExpectedElements < 0 {
		return fmt.Errorf("expected_elements must not be negative: %v", c.ExpectedElements)
	}
	for i, g := range c.Gateways {
		if g.Prefix == "" {
			return fmt.Errorf("gateway rule %v: empty prefix", i)
		}
		if g.Element == "" {
			return fmt.Errorf("gateway rule %v: empty element", i)
		}
	}

	return nil
}

// Manages reports whether the controller owns the given element.
func (c *Config) Manages(element string) bool {
	if len(c.ManagedElements) == 0 {
		return true
	}
	for _, id := range c.ManagedElements {
		if id == element {
			return true
		}
	}

	return false
}
