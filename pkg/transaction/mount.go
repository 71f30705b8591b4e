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
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/suse/atomic-update/pkg/btrfs"
	"github.com/suse/atomic-update/pkg/chroot"
	"github.com/suse/atomic-update/pkg/sys"
)

// teardownWarnCycles is how many scan-and-unmount cycles may pass before
// warning the operator the teardown is not converging
const teardownWarnCycles = 30

// assembleMountTree makes the snapshot usable as an alternate root: mounts
// its subvolume at the transaction's mount root, binds the host API
// filesystems and processes the snapshot's own fstab.
func (c *Coordinator) assembleMountTree(t *Transaction) (chr *chroot.Chroot, err error) {
	defer func() { err = c.checkCancelled(err) }()

	subvol := btrfs.SnapshotSubvolume(t.ID)
	c.s.Logger().Info("Mounting subvolume %s at %s", subvol, t.MountDir)
	err = c.s.Mounter().Mount(t.Device, t.MountDir, "btrfs", []string{"subvol=" + subvol})
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "mounting subvolume %s", subvol)
	}

	chr = chroot.NewChroot(c.s, t.MountDir)
	err = chr.Prepare()
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "binding host filesystems into %s", t.MountDir)
	}
	err = chr.ApplyFstab()
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "mounting the snapshot's own filesystems")
	}
	return chr, nil
}

// teardownMountTree unmounts everything below root, deepest path first, and
// rescans until no mount point remains. Transient unmount failures are
// expected while deeper mounts are still attached, so the loop never gives
// up: leaking a mount would corrupt system state. Safe to call with no
// mounts present.
func teardownMountTree(s *sys.System, root string, interval time.Duration) error {
	cycles := 0

	scanAndUnmount := func() error {
		mounts, err := s.Mounter().List()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("listing mount points: %w", err))
		}
		var under []string
		for _, mnt := range mounts {
			if mnt.Path == root || strings.HasPrefix(mnt.Path, root+"/") {
				under = append(under, mnt.Path)
			}
		}
		if len(under) == 0 {
			return nil
		}
		sort.Slice(under, func(i, j int) bool { return len(under[i]) > len(under[j]) })
		for _, path := range under {
			// a recursive unmount earlier in this pass may already have
			// detached the path
			if ok, e := s.Mounter().IsMountPoint(path); e == nil && !ok {
				continue
			}
			if err := s.Mounter().Unmount(path); err != nil {
				s.Logger().Debug("unmount of %s failed, will rescan: %v", path, err)
			}
		}
		return fmt.Errorf("%d mount points remain under %s", len(under), root)
	}

	notify := func(err error, _ time.Duration) {
		cycles++
		if cycles%teardownWarnCycles == 0 {
			s.Logger().Warn("mount teardown of %s not converging after %d cycles: %v", root, cycles, err)
		}
	}

	return backoff.RetryNotify(scanAndUnmount, backoff.NewConstantBackOff(interval), notify)
}
