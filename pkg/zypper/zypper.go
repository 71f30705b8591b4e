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

package zypper

import (
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/sys/vfs"
)

const (
	// Binary is the zypper command
	Binary = "zypper"
	// PidFile is written by libzypp while a zypper process holds its lock
	PidFile = "/run/zypp.pid"
)

type Zypper struct {
	s *sys.System
}

func New(s *sys.System) *Zypper {
	return &Zypper{s: s}
}

// IsLocked reports whether another libzypp consumer is currently active, by
// checking the zypp pid file names a live process. A stale pid file left by
// a crashed process does not count as locked.
func (z Zypper) IsLocked() (bool, error) {
	ok, err := vfs.Exists(z.s.FS(), PidFile)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	data, err := z.s.FS().ReadFile(PidFile)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", PidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, nil
	}

	return vfs.Exists(z.s.FS(), filepath.Join("/proc", strconv.Itoa(pid)))
}

type installSummary struct {
	PackagesToChange int `xml:"packages-to-change,attr"`
}

type stream struct {
	XMLName        xml.Name       `xml:"stream"`
	InstallSummary installSummary `xml:"install-summary"`
}

// PendingChanges performs a distribution upgrade dry-run against the given
// root and returns the number of packages the real run would change
func (z Zypper) PendingChanges(ctx context.Context, root string) (int, error) {
	cmdOut, err := z.s.Runner().RunContext(
		ctx, Binary, "--root", root, "--non-interactive", "--xmlout",
		"dist-upgrade", "--dry-run",
	)
	if err != nil {
		return 0, fmt.Errorf("dist-upgrade dry-run: %s: %w", strings.TrimSpace(string(cmdOut)), err)
	}

	var report stream
	err = xml.Unmarshal(cmdOut, &report)
	if err != nil {
		return 0, fmt.Errorf("unmarshalling dry-run report: %w", err)
	}
	return report.InstallSummary.PackagesToChange, nil
}

// DistUpgrade performs a distribution upgrade against the given root.
// Interactive runs get the invoking terminal attached so the operator can
// resolve conflicts and confirm the change set. Unattended runs stream
// zypper's progress to the logger as it happens, an upgrade can take many
// minutes and a silent terminal is indistinguishable from a hung one.
func (z Zypper) DistUpgrade(ctx context.Context, root string, interactive bool) error {
	if interactive {
		return z.s.Runner().RunAttached(Binary, "--root", root, "dist-upgrade")
	}

	var lastErrLine string
	stdoutH := func(line string) {
		z.s.Logger().Info("%s", line)
	}
	stderrH := func(line string) {
		lastErrLine = line
		z.s.Logger().Error("%s", line)
	}
	err := z.s.Runner().RunContextParseOutput(
		ctx, stdoutH, stderrH, Binary, "--root", root, "--non-interactive", "dist-upgrade",
	)
	if err != nil {
		if lastErrLine != "" {
			return fmt.Errorf("dist-upgrade: %s: %w", lastErrLine, err)
		}
		return fmt.Errorf("dist-upgrade: %w", err)
	}
	return nil
}
