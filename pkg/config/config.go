/*
Copyright © 2025 SUSE LLC
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/sys/vfs"
)

// DefaultPath is the engine configuration file location
const DefaultPath = "/etc/atomic-update/config.yaml"

// Config tunes the engine. All fields have working defaults, the
// configuration file is optional.
type Config struct {
	// MaxSnapshots bounds how many finished snapshots are retained after a
	// successful update
	MaxSnapshots int `yaml:"max_snapshots"`
	// RegisterAttempts bounds the 1s-interval polls waiting for the
	// verification container to register
	RegisterAttempts int `yaml:"register_attempts"`
	// BootAttempts bounds the 1s-interval polls waiting for the verification
	// container to finish booting
	BootAttempts int `yaml:"boot_attempts"`
	// Shell opened by the accept/reject gate
	Shell string `yaml:"shell"`
}

func Default() Config {
	return Config{
		MaxSnapshots:     10,
		RegisterAttempts: 10,
		BootAttempts:     120,
		Shell:            "/bin/bash",
	}
}

// Load reads the configuration at the given path on top of the defaults.
// A missing file yields the defaults.
func Load(s *sys.System, path string) (Config, error) {
	conf := Default()

	ok, err := vfs.Exists(s.FS(), path)
	if err != nil {
		return conf, err
	}
	if !ok {
		return conf, nil
	}

	data, err := s.FS().ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("reading configuration %s: %w", path, err)
	}
	err = yaml.Unmarshal(data, &conf)
	if err != nil {
		return conf, fmt.Errorf("parsing configuration %s: %w", path, err)
	}
	if conf.MaxSnapshots < 1 {
		return conf, fmt.Errorf("max_snapshots must be at least 1")
	}
	if conf.RegisterAttempts < 1 || conf.BootAttempts < 1 {
		return conf, fmt.Errorf("poll attempt budgets must be at least 1")
	}
	return conf, nil
}
