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

package nspawn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suse/atomic-update/pkg/sys"
)

// Binary is the systemd-nspawn command
const Binary = "systemd-nspawn"

// System states reported by 'systemctl is-system-running' that terminate
// the boot wait. A degraded container booted, it just has failed units.
const (
	StateRunning  = "running"
	StateDegraded = "degraded"
)

// Nspawn drives ephemeral containers booted from snapshot directories
type Nspawn struct {
	s *sys.System
}

func New(s *sys.System) *Nspawn {
	return &Nspawn{s: s}
}

// Boot starts a disposable container booted from the given directory under
// the given machine name. The launch is fire and forget: systemd-run detaches
// the container into a transient unit and returns immediately, callers poll
// for registration and boot completion separately.
func (n Nspawn) Boot(dir, machine string) error {
	cmdOut, err := n.s.Runner().Run(
		"systemd-run", "--collect", "--unit", machine,
		Binary, "--boot", "--ephemeral",
		"--directory", dir, "--machine", machine,
	)
	if err != nil {
		return fmt.Errorf("launching container '%s': %s: %w", machine, strings.TrimSpace(string(cmdOut)), err)
	}
	return nil
}

type machine struct {
	Machine string `json:"machine"`
	Class   string `json:"class"`
}

// IsRegistered checks the given machine is known to machined
func (n Nspawn) IsRegistered(name string) (bool, error) {
	cmdOut, err := n.s.Runner().Run("machinectl", "list", "--output", "json")
	if err != nil {
		return false, fmt.Errorf("listing machines: %s: %w", strings.TrimSpace(string(cmdOut)), err)
	}

	var machines []machine
	err = json.Unmarshal(cmdOut, &machines)
	if err != nil {
		return false, fmt.Errorf("unmarshalling machine list: %w", err)
	}
	for _, m := range machines {
		if m.Machine == name {
			return true, nil
		}
	}
	return false, nil
}

// SystemState queries the boot state of the given machine. While booting the
// query itself may fail, in which case the state is reported empty with no
// error so callers can keep polling.
func (n Nspawn) SystemState(name string) (string, error) {
	cmdOut, err := n.s.Runner().Run("systemctl", "-M", name, "is-system-running")
	state := strings.TrimSpace(string(cmdOut))
	if err != nil && state == "" {
		return "", nil
	}
	return state, nil
}

type unit struct {
	Unit   string `json:"unit"`
	Active string `json:"active"`
	Sub    string `json:"sub"`
}

// FailedUnits returns the names of the units reported failed inside the
// given machine
func (n Nspawn) FailedUnits(name string) ([]string, error) {
	cmdOut, err := n.s.Runner().Run(
		"systemctl", "-M", name, "--output", "json",
		"list-units", "--state=failed",
	)
	if err != nil {
		return nil, fmt.Errorf("listing failed units of '%s': %s: %w", name, strings.TrimSpace(string(cmdOut)), err)
	}

	var units []unit
	err = json.Unmarshal(cmdOut, &units)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling unit list: %w", err)
	}
	var failed []string
	for _, u := range units {
		failed = append(failed, u.Unit)
	}
	return failed, nil
}

// Terminate stops the given machine. Terminating a machine that already went
// away is not an error.
func (n Nspawn) Terminate(name string) error {
	registered, err := n.IsRegistered(name)
	if err != nil {
		return err
	}
	if !registered {
		return nil
	}
	cmdOut, err := n.s.Runner().Run("machinectl", "terminate", name)
	if err != nil {
		return fmt.Errorf("terminating container '%s': %s: %w", name, strings.TrimSpace(string(cmdOut)), err)
	}
	return nil
}
