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
	"strings"

	"github.com/suse/atomic-update/pkg/chroot"
)

// executeChange applies the requested change inside the assembled mount
// tree. It reports noop when an upgrade dry-run finds nothing to change, in
// which case the transaction is discarded without error.
func (c *Coordinator) executeChange(t *Transaction, chr *chroot.Chroot, change Change) (noop bool, err error) {
	defer func() { err = c.checkCancelled(err) }()

	switch change.Kind {
	case Upgrade:
		count, err := c.pkg.PendingChanges(c.ctx, t.MountDir)
		if err != nil {
			return false, WrapError(ExitChangeRejected, err, "checking for pending changes")
		}
		if count == 0 {
			return true, nil
		}
		c.s.Logger().Info("%d packages to change, starting distribution upgrade", count)
		err = c.pkg.DistUpgrade(c.ctx, t.MountDir, change.Interactive)
		if err != nil {
			return false, WrapError(ExitChangeRejected, err, "distribution upgrade failed")
		}
	case Command:
		if len(change.Args) == 0 {
			return false, Errorf(ExitUsage, "no command given")
		}
		c.s.Logger().Info("Running '%s' in snapshot %d", strings.Join(change.Args, " "), t.ID)
		out, err := chr.Run(change.Args[0], change.Args[1:]...)
		if err != nil {
			return false, WrapError(ExitChangeRejected, err, "command failed: %s", strings.TrimSpace(string(out)))
		}
		if len(out) > 0 {
			c.s.Logger().Info("Command output:\n%s", string(out))
		}
	}

	if change.Shell {
		c.s.Logger().Info("Opening a shell in snapshot %d, exit 0 to accept the change, non-zero to discard it", t.ID)
		err := chr.RunAttached(c.cfg.Shell)
		if err != nil {
			return false, WrapError(ExitChangeRejected, err, "change rejected from the shell")
		}
	}

	return false, nil
}
