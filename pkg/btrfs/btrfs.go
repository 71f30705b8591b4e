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

package btrfs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suse/atomic-update/pkg/sys"
)

// TopSubVol is the conventional top level subvolume of openSUSE btrfs layouts
const TopSubVol = "@"

// SnapshotSubvolume returns the subvolume path of the given snapshot number,
// as reported by 'btrfs subvolume list' (e.g. "@/.snapshots/42/snapshot").
func SnapshotSubvolume(id int) string {
	return fmt.Sprintf("%s/.snapshots/%d/snapshot", TopSubVol, id)
}

// SnapshotDir returns the snapshot filesystem path relative to the root
// (e.g. "/.snapshots/42/snapshot").
func SnapshotDir(id int) string {
	return fmt.Sprintf("/.snapshots/%d/snapshot", id)
}

type Subvolume struct {
	ID   int
	Path string
}

type Btrfs struct {
	s *sys.System
}

func New(s *sys.System) *Btrfs {
	return &Btrfs{s: s}
}

// ListSubvolumes lists all subvolumes of the btrfs filesystem backing the given path
func (b Btrfs) ListSubvolumes(path string) ([]Subvolume, error) {
	cmdOut, err := b.s.Runner().Run("btrfs", "subvolume", "list", path)
	if err != nil {
		return nil, fmt.Errorf("listing subvolumes of '%s': %s: %w", path, strings.TrimSpace(string(cmdOut)), err)
	}
	return parseSubvolumeList(cmdOut), nil
}

// SubvolumeExists checks the given subvolume path (e.g. "@/.snapshots/3/snapshot")
// is part of the filesystem backing the given path
func (b Btrfs) SubvolumeExists(path string, subvolume string) (bool, error) {
	subvols, err := b.ListSubvolumes(path)
	if err != nil {
		return false, err
	}
	for _, subvol := range subvols {
		if subvol.Path == subvolume {
			return true, nil
		}
	}
	return false, nil
}

type findmntFilesystem struct {
	Source string `json:"source"`
	FsType string `json:"fstype"`
}

type findmntOutput struct {
	Filesystems []findmntFilesystem `json:"filesystems"`
}

// ResolveDevice returns the btrfs device backing the given mount point.
// The source is reported by findmnt as 'device[subvolume]', the subvolume
// part is stripped.
func (b Btrfs) ResolveDevice(mountPoint string) (string, error) {
	cmdOut, err := b.s.Runner().Run(
		"findmnt", "--json", "--first-only", "--output", "SOURCE,FSTYPE", mountPoint,
	)
	if err != nil {
		return "", fmt.Errorf("resolving device of '%s': %s: %w", mountPoint, strings.TrimSpace(string(cmdOut)), err)
	}

	var out findmntOutput
	err = json.Unmarshal(cmdOut, &out)
	if err != nil {
		return "", fmt.Errorf("unmarshalling findmnt output: %w", err)
	}
	if len(out.Filesystems) == 0 {
		return "", fmt.Errorf("no filesystem found for mount point '%s'", mountPoint)
	}
	fs := out.Filesystems[0]
	if fs.FsType != "btrfs" {
		return "", fmt.Errorf("mount point '%s' is backed by '%s', expected btrfs", mountPoint, fs.FsType)
	}

	device := fs.Source
	if i := strings.Index(device, "["); i >= 0 {
		device = device[:i]
	}
	return device, nil
}

// parseSubvolumeList parses 'btrfs subvolume list' lines of the form
// "ID 268 gen 131 top level 266 path @/.snapshots/1/snapshot"
func parseSubvolumeList(cmdOut []byte) []Subvolume {
	var subvols []Subvolume
	for _, line := range strings.Split(string(cmdOut), "\n") {
		fields := strings.Fields(line)
		var subvol Subvolume
		for i := 0; i < len(fields)-1; i++ {
			switch fields[i] {
			case "ID":
				_, _ = fmt.Sscanf(fields[i+1], "%d", &subvol.ID)
			case "path":
				subvol.Path = fields[i+1]
			}
		}
		if subvol.Path != "" {
			subvols = append(subvols, subvol)
		}
	}
	return subvols
}
