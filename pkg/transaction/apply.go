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

package transaction

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/suse/atomic-update/pkg/btrfs"
	"github.com/suse/atomic-update/pkg/snapper"
	"github.com/suse/atomic-update/pkg/sys/vfs"
)

// applyDirs are the trees swapped onto the running system by a live apply
var applyDirs = []string{"/usr", "/etc", "/boot"}

// applyLive bind-swaps the committed snapshot's /usr, /etc and /boot onto
// the running system, then reexecutes the service manager and recreates
// transient files so new units and configuration take effect without a
// reboot. This sequence is one-directional: a failure mid-way is reported
// but not compensated, the committed default snapshot converges the system
// on the next reboot. Already-running processes are not restarted.
func (c *Coordinator) applyLive(t *Transaction) (err error) {
	defer func() { err = c.checkCancelled(err) }()

	c.s.Logger().Info("Applying snapshot %d to the running system", t.ID)

	applyDir, err := vfs.TempDir(c.s.FS(), "", workDirPrefix+"apply-")
	if err != nil {
		return fmt.Errorf("creating apply staging directory: %w", err)
	}
	defer func() {
		// the binds hold their own references, the staging mount can go
		if e := c.s.Mounter().Unmount(applyDir); e != nil {
			c.s.Logger().Warn("could not unmount apply staging directory %s: %v", applyDir, e)
			return
		}
		if e := vfs.RemoveAll(c.s.FS(), applyDir); e != nil {
			c.s.Logger().Warn("could not remove apply staging directory %s: %v", applyDir, e)
		}
	}()

	subvol := btrfs.SnapshotSubvolume(t.ID)
	err = c.s.Mounter().Mount(t.Device, applyDir, "btrfs", []string{"ro", "subvol=" + subvol})
	if err != nil {
		return fmt.Errorf("mounting subvolume %s for apply: %w", subvol, err)
	}

	for _, dir := range applyDirs {
		err = c.s.Mounter().Mount(filepath.Join(applyDir, dir), dir, "", []string{"bind"})
		if err != nil {
			return fmt.Errorf("binding %s from snapshot %d: %w", dir, t.ID, err)
		}
	}

	// the swapped trees shadow any nested subvolume mounted beneath them
	// (e.g. /usr/local), remount those from the live top level subvolume
	subvols, err := c.vol.ListSubvolumes("/")
	if err != nil {
		return fmt.Errorf("discovering nested subvolumes: %w", err)
	}
	for _, sv := range subvols {
		path := strings.TrimPrefix(sv.Path, btrfs.TopSubVol)
		if path == "" || strings.HasPrefix(path, "/"+snapper.SnapshotsPath) {
			continue
		}
		for _, dir := range applyDirs {
			if !strings.HasPrefix(path, dir+"/") {
				continue
			}
			err = c.s.Mounter().Mount(t.Device, path, "btrfs", []string{"subvol=" + sv.Path})
			if err != nil {
				return fmt.Errorf("remounting nested subvolume %s: %w", sv.Path, err)
			}
		}
	}

	err = c.init.DaemonReexec()
	if err != nil {
		return err
	}
	return c.init.TmpfilesCreate()
}
