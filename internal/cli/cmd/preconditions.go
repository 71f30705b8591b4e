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

package cmd

import (
	"os"

	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/transaction"
	"github.com/suse/atomic-update/pkg/zypper"
)

// TransactionBinaries are the external collaborators a full transaction
// drives. Rollback only moves the default snapshot pointer.
var (
	TransactionBinaries = []string{
		"snapper", "btrfs", "findmnt", "mount", "zypper",
		"systemd-run", "systemd-nspawn", "machinectl", "systemctl",
	}
	RollbackBinaries = []string{"snapper"}
)

// geteuid is swappable for tests
var geteuid = os.Geteuid

// CheckPreconditions validates the environment before any transaction state
// exists: root privilege, required external commands, and optionally that no
// other libzypp consumer is active.
func CheckPreconditions(s *sys.System, binaries []string, checkZyppLock bool) error {
	if geteuid() != 0 {
		return transaction.Errorf(transaction.ExitNotPrivileged, "this command must be run as root")
	}
	for _, binary := range binaries {
		if !sys.CommandExists(binary) {
			return transaction.Errorf(transaction.ExitMissingDep, "required command '%s' not found in PATH", binary)
		}
	}
	if checkZyppLock {
		locked, err := zypper.New(s).IsLocked()
		if err != nil {
			// not "zypper is busy", the environment could not be inspected
			return transaction.WrapError(transaction.ExitMissingDep, err, "checking the zypp lock")
		}
		if locked {
			return transaction.Errorf(transaction.ExitPackageToolBusy,
				"zypper is already running, see %s", zypper.PidFile)
		}
	}
	return nil
}
