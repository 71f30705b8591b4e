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

	"github.com/cenkalti/backoff/v4"

	"github.com/suse/atomic-update/pkg/nspawn"
)

// FailedUnitSet is the set of unit names reported failed inside a booted
// container at one point in time
type FailedUnitSet map[string]struct{}

func NewFailedUnitSet(units []string) FailedUnitSet {
	set := FailedUnitSet{}
	for _, unit := range units {
		set[unit] = struct{}{}
	}
	return set
}

// Diff returns the units in the set that are not in the baseline, sorted.
// Units failed in both are tolerated: the target system may have known,
// intentional failures.
func (f FailedUnitSet) Diff(baseline FailedUnitSet) []string {
	var units []string
	for unit := range f {
		if _, ok := baseline[unit]; !ok {
			units = append(units, unit)
		}
	}
	sort.Strings(units)
	return units
}

// captureFailedUnits boots the transaction's mount tree as an ephemeral
// container, waits for it to register and finish booting, and returns the
// set of failed units. The container is terminated before returning; on
// failure paths any leftover is terminated by the cleanup pass.
func (c *Coordinator) captureFailedUnits(t *Transaction) (FailedUnitSet, error) {
	vm := nspawn.New(c.s)

	err := vm.Boot(t.MountDir, t.Machine)
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "could not boot ephemeral container")
	}

	err = c.poll(c.cfg.RegisterAttempts, func() error {
		registered, err := vm.IsRegistered(t.Machine)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !registered {
			return fmt.Errorf("container '%s' not registered yet", t.Machine)
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "could not boot ephemeral container")
	}

	err = c.poll(c.cfg.BootAttempts, func() error {
		state, err := vm.SystemState(t.Machine)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch state {
		case nspawn.StateRunning, nspawn.StateDegraded:
			return nil
		default:
			return fmt.Errorf("container '%s' is '%s'", t.Machine, state)
		}
	})
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "timeout waiting for boot of container '%s'", t.Machine)
	}

	units, err := vm.FailedUnits(t.Machine)
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "querying failed units of container '%s'", t.Machine)
	}

	err = vm.Terminate(t.Machine)
	if err != nil {
		return nil, WrapError(ExitChangeRejected, err, "stopping container '%s'", t.Machine)
	}

	return NewFailedUnitSet(units), nil
}

// poll retries the given operation at the coordinator's interval, bounded to
// the given number of attempts and cancellable through the run context
func (c *Coordinator) poll(attempts int, operation backoff.Operation) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), uint64(attempts-1))
	return backoff.Retry(operation, backoff.WithContext(b, c.ctx))
}
