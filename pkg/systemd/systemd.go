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

package systemd

import (
	"fmt"
	"strings"

	"github.com/suse/atomic-update/pkg/sys"
)

// Systemd drives the init system of the running host
type Systemd struct {
	s *sys.System
}

func New(s *sys.System) *Systemd {
	return &Systemd{s: s}
}

// Reboot requests a system reboot
func (sd Systemd) Reboot() error {
	cmdOut, err := sd.s.Runner().Run("systemctl", "reboot")
	if err != nil {
		return fmt.Errorf("requesting reboot: %s: %w", strings.TrimSpace(string(cmdOut)), err)
	}
	return nil
}

// DaemonReexec reexecutes the service manager so it picks up the unit
// database of a freshly swapped /usr and /etc
func (sd Systemd) DaemonReexec() error {
	cmdOut, err := sd.s.Runner().Run("systemctl", "daemon-reexec")
	if err != nil {
		return fmt.Errorf("reexecuting service manager: %s: %w", strings.TrimSpace(string(cmdOut)), err)
	}
	return nil
}

// TmpfilesCreate recreates transient files and directories from the
// tmpfiles.d configuration
func (sd Systemd) TmpfilesCreate() error {
	cmdOut, err := sd.s.Runner().Run("systemd-tmpfiles", "--create")
	if err != nil {
		return fmt.Errorf("recreating transient files: %s: %w", strings.TrimSpace(string(cmdOut)), err)
	}
	return nil
}
