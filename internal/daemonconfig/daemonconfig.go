/*
 * uqmid - Daemon bootstrap configuration.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package daemonconfig loads the daemon's own bootstrap settings: the
// list of modems to manage, their device paths and driver, the log
// file, and the per-modem profile DSL file config/configparser reads.
// This is a distinct concern from configparser's per-modem attach
// options (top-level daemon bootstrap vs. per-modem configuration),
// so it gets its own YAML document.
package daemonconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModemEntry is one daemon-managed modem: the name it is added under,
// its character device path, and which Frame Layer it speaks.
type ModemEntry struct {
	Name   string `yaml:"name"`
	Device string `yaml:"device"`
	Driver string `yaml:"driver"` // "qmi" or "mbim"
}

// Config is the daemon's own bootstrap configuration, loaded once at
// startup.
type Config struct {
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	Debug         bool   `yaml:"debug"`

	// ProfileFile, if set, is a config/configparser document of MODEM
	// stanzas carrying each modem's attach options (apn, pin, roaming,
	// ...). Empty means no modem is pre-configured at startup.
	ProfileFile string `yaml:"profile_file"`

	// RPCListen is the RPC-bus adapter's listen path. No bus binding
	// is implemented; this is carried through only so a future one has
	// somewhere to read its configuration from.
	RPCListen string `yaml:"rpc_listen"`

	Modems []ModemEntry `yaml:"modems"`
}

// Load reads and validates the daemon bootstrap config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("daemonconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("daemonconfig: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded config is internally consistent: every
// modem has a name and device, no two modems share a name, and the
// driver (when given) is one this daemon understands.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Modems))
	for i, m := range c.Modems {
		if m.Name == "" {
			return fmt.Errorf("daemonconfig: modems[%d]: name is required", i)
		}
		if m.Device == "" {
			return fmt.Errorf("daemonconfig: modems[%d] (%s): device is required", i, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("daemonconfig: duplicate modem name %q", m.Name)
		}
		seen[m.Name] = true
		switch m.Driver {
		case "", "qmi", "mbim":
		default:
			return fmt.Errorf("daemonconfig: modem %q: unknown driver %q", m.Name, m.Driver)
		}
	}
	return nil
}
