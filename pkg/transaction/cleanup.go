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
	"errors"
	"fmt"
	"time"

	"github.com/suse/atomic-update/pkg/nspawn"
	"github.com/suse/atomic-update/pkg/snapper"
	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/sys/vfs"
)

// Cleaner releases everything a transaction may have acquired: ephemeral
// containers, the mount tree, temporary directories and unfinished
// snapshots. It is idempotent and safe on a transaction in any state, the
// coordinator funnels success, abort and interruption through it alike.
type Cleaner struct {
	s        *sys.System
	interval time.Duration
	snap     *snapper.Snapper
	vm       *nspawn.Nspawn
}

type CleanerOpts func(cl *Cleaner)

func WithCleanerPollInterval(interval time.Duration) CleanerOpts {
	return func(cl *Cleaner) {
		cl.interval = interval
	}
}

func NewCleaner(s *sys.System, opts ...CleanerOpts) *Cleaner {
	cl := &Cleaner{
		s:        s,
		interval: time.Second,
		snap:     snapper.New(s),
		vm:       nspawn.New(s),
	}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

// Cleanup releases all traces of the given transaction. Every step is
// attempted even if a previous one failed, errors are aggregated.
func (cl *Cleaner) Cleanup(conf string, t *Transaction) (err error) {
	if t == nil {
		t = &Transaction{}
	}

	if t.Machine != "" {
		e := cl.vm.Terminate(t.Machine)
		if e != nil {
			err = errors.Join(err, fmt.Errorf("terminating container '%s': %w", t.Machine, e))
		}
	}
	if t.MountDir != "" {
		e := teardownMountTree(cl.s, t.MountDir, cl.interval)
		if e != nil {
			err = errors.Join(err, fmt.Errorf("tearing down mount tree at %s: %w", t.MountDir, e))
		}
	}
	if t.WorkDir != "" {
		e := vfs.RemoveAll(cl.s.FS(), t.WorkDir)
		if e != nil {
			err = errors.Join(err, fmt.Errorf("removing work directory %s: %w", t.WorkDir, e))
		}
	}
	if conf != "" {
		e := cl.DiscardUnfinished(conf)
		if e != nil {
			err = errors.Join(err, e)
		}
	}
	return err
}

// DiscardUnfinished deletes any snapshot of the given configuration still
// tagged created or pending. A finished or untagged snapshot is never
// touched. This recovers from runs killed before reaching a terminal state.
func (cl *Cleaner) DiscardUnfinished(conf string) error {
	ids, err := cl.snap.Unfinished(conf)
	if err != nil {
		return fmt.Errorf("scanning for unfinished snapshots: %w", err)
	}
	for _, id := range ids {
		cl.s.Logger().Info("Discarding unfinished snapshot %d", id)
		err = cl.snap.Delete(conf, id)
		if err != nil {
			return fmt.Errorf("discarding unfinished snapshot %d: %w", id, err)
		}
	}
	return nil
}
