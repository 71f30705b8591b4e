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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suse/atomic-update/pkg/btrfs"
	"github.com/suse/atomic-update/pkg/config"
	"github.com/suse/atomic-update/pkg/snapper"
	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/sys/vfs"
	"github.com/suse/atomic-update/pkg/systemd"
	"github.com/suse/atomic-update/pkg/utils/cleanstack"
	"github.com/suse/atomic-update/pkg/zypper"
)

const (
	workDirPrefix = "atomic-update-"
	// BaseDefault selects the default snapshot as transaction base instead
	// of the currently booted one
	BaseDefault = "default"

	minSnapshotNumber = 1
	maxSnapshotNumber = 999999
)

type ChangeKind int

const (
	// Upgrade runs a zypper distribution upgrade inside the snapshot
	Upgrade ChangeKind = iota
	// Command runs an arbitrary command inside the snapshot
	Command
)

// Change describes the mutation a transaction applies to its snapshot
type Change struct {
	Kind        ChangeKind
	Args        []string
	Interactive bool
	// Shell opens an accept/reject shell inside the snapshot after the
	// change, exit status zero accepts the transaction
	Shell bool
}

// Options tune a single transaction run
type Options struct {
	// Verify boots the snapshot as an ephemeral container before and after
	// the change and aborts on newly failed units
	Verify bool
	// Apply bind-swaps the committed snapshot onto the running system
	Apply bool
	// Reboot the host once the transaction committed
	Reboot bool
	// Base overrides the transaction base: empty for the currently booted
	// snapshot, BaseDefault for the default one, or an explicit number
	Base string
}

// Transaction is the ephemeral state of one engine run, never persisted
type Transaction struct {
	ID       int
	Base     int
	WorkDir  string
	MountDir string
	Machine  string
	Device   string
	Baseline FailedUnitSet
}

// Coordinator drives the snapshot transaction lifecycle: create, assemble,
// verify, change, commit or discard.
type Coordinator struct {
	ctx      context.Context
	s        *sys.System
	cfg      config.Config
	interval time.Duration
	snap     *snapper.Snapper
	vol      *btrfs.Btrfs
	pkg      *zypper.Zypper
	init     *systemd.Systemd
	cleaner  *Cleaner
}

type Opts func(c *Coordinator)

// WithPollInterval overrides the 1s pause between probe polls and teardown
// scans, for tests
func WithPollInterval(interval time.Duration) Opts {
	return func(c *Coordinator) {
		c.interval = interval
	}
}

func New(ctx context.Context, s *sys.System, cfg config.Config, opts ...Opts) *Coordinator {
	c := &Coordinator{
		ctx:      ctx,
		s:        s,
		cfg:      cfg,
		interval: time.Second,
		snap:     snapper.New(s),
		vol:      btrfs.New(s),
		pkg:      zypper.New(s),
		init:     systemd.New(s),
	}
	for _, o := range opts {
		o(c)
	}
	c.cleaner = NewCleaner(s, WithCleanerPollInterval(c.interval))
	return c
}

// checkCancelled returns the given error if not nil, otherwise the context
// error if any. Cancellation is observed at every lifecycle boundary.
func (c Coordinator) checkCancelled(err error) error {
	if err != nil {
		return err
	}
	return c.ctx.Err()
}

// Run performs one full transaction: snapshot the root filesystem, apply the
// change inside it, optionally verify it boots, and promote it to default.
// Any failure or interruption discards the snapshot and leaves no trace.
func (c *Coordinator) Run(change Change, opts Options) (err error) {
	cleanup := cleanstack.NewCleanStack()
	t := &Transaction{}
	conf := ""

	defer func() {
		err = cleanup.Cleanup(err)
		if errors.Is(err, context.Canceled) {
			// the exit is neutral but anything beyond the plain
			// cancellation, cleanup failures included, still gets reported
			if err != context.Canceled {
				c.s.Logger().Warn("interrupted transaction reported: %v", err)
			}
			c.s.Logger().Info("Interrupted, transaction discarded")
			err = nil
		}
	}()

	conf, err = c.rootConfig()
	if err != nil {
		return err
	}

	// recover leftovers of a previously killed run before opening a new
	// transaction, there must never be more than one unfinished snapshot
	err = c.cleaner.DiscardUnfinished(conf)
	if err != nil {
		return err
	}
	cleanup.Push(func() error { return c.cleaner.Cleanup(conf, t) })

	err = c.startTransaction(conf, opts.Base, t)
	if err = c.checkCancelled(err); err != nil {
		return err
	}

	chr, err := c.assembleMountTree(t)
	if err = c.checkCancelled(err); err != nil {
		return err
	}

	if opts.Verify {
		c.s.Logger().Info("Capturing failed unit baseline of snapshot %d", t.ID)
		t.Baseline, err = c.captureFailedUnits(t)
		if err = c.checkCancelled(err); err != nil {
			return err
		}
	}

	noop, err := c.executeChange(t, chr, change)
	if err = c.checkCancelled(err); err != nil {
		return err
	}
	if noop {
		c.s.Logger().Info("Nothing to do, discarding snapshot %d", t.ID)
		return nil
	}

	if opts.Verify {
		c.s.Logger().Info("Verifying snapshot %d boots", t.ID)
		post, err := c.captureFailedUnits(t)
		if err = c.checkCancelled(err); err != nil {
			return err
		}
		if regressions := post.Diff(t.Baseline); len(regressions) > 0 {
			return Errorf(ExitChangeRejected, "verification failed, newly failed units: %s",
				strings.Join(regressions, ", "))
		}
	}

	err = c.commit(conf, t)
	if err = c.checkCancelled(err); err != nil {
		return err
	}

	if opts.Apply {
		err = c.applyLive(t)
		if err != nil {
			return err
		}
	}
	if opts.Reboot {
		return c.init.Reboot()
	}
	return nil
}

// Rollback promotes the given snapshot, or the currently booted one if none
// is given, to be the next boot target. No snapshot is created or modified
// beyond the default pointer.
func (c *Coordinator) Rollback(arg string, reboot bool) (err error) {
	defer func() { err = c.checkCancelled(err) }()

	conf, err := c.rootConfig()
	if err != nil {
		return err
	}
	snaps, err := c.snap.ListSnapshots(conf)
	if err != nil {
		return WrapError(ExitNoRootConfig, err, "listing snapshots of configuration '%s'", conf)
	}

	var target int
	if arg == "" {
		target = snaps.GetActive()
		if target == 0 {
			return Errorf(ExitUsage, "cannot determine the currently booted snapshot")
		}
	} else {
		target, err = parseSnapshotNumber(arg)
		if err != nil {
			return err
		}
		if snaps.Get(target) == nil {
			return Errorf(ExitUsage, "snapshot %d does not exist", target)
		}
	}

	err = c.snap.SetDefault(conf, target)
	if err != nil {
		return WrapError(ExitSnapshotFailed, err, "promoting snapshot %d", target)
	}
	c.s.Logger().Info("Snapshot %d is the new default", target)

	if reboot {
		return c.init.Reboot()
	}
	return nil
}

// startTransaction resolves the base, creates the new snapshot, confirms its
// backing subvolume and resolves the root device. Nothing is mounted yet.
func (c *Coordinator) startTransaction(conf, base string, t *Transaction) (err error) {
	defer func() { err = c.checkCancelled(err) }()

	snaps, err := c.snap.ListSnapshots(conf)
	if err != nil {
		return WrapError(ExitNoRootConfig, err, "listing snapshots of configuration '%s'", conf)
	}
	t.Base, err = c.resolveBase(snaps, base)
	if err != nil {
		return err
	}

	c.s.Logger().Info("Creating new snapshot from %d", t.Base)
	t.ID, err = c.snap.CreateFrom(
		conf, t.Base, fmt.Sprintf("atomic update of #%d", t.Base),
		snapper.Metadata{snapper.StatusKey: string(snapper.StatusCreated)},
	)
	if err != nil {
		return WrapError(ExitSnapshotFailed, err, "creating snapshot from %d", t.Base)
	}

	ok, err := c.vol.SubvolumeExists("/", btrfs.SnapshotSubvolume(t.ID))
	if err != nil {
		return WrapError(ExitSubvolumeMissing, err, "checking subvolume of snapshot %d", t.ID)
	}
	if !ok {
		return Errorf(ExitSubvolumeMissing, "subvolume of snapshot %d not found after creation", t.ID)
	}
	err = c.snap.SetStatus(conf, t.ID, snapper.StatusPending)
	if err != nil {
		return WrapError(ExitSnapshotFailed, err, "tagging snapshot %d", t.ID)
	}

	t.Device, err = c.vol.ResolveDevice("/")
	if err != nil {
		return WrapError(ExitDeviceUnresolved, err, "resolving the root filesystem device")
	}

	return c.createWorkspace(t)
}

// commit is the transaction's single point of no return: tagging finished
// and switching the default pointer publish the snapshot to the system.
func (c *Coordinator) commit(conf string, t *Transaction) (err error) {
	defer func() { err = c.checkCancelled(err) }()

	err = c.snap.SetStatus(conf, t.ID, snapper.StatusFinished)
	if err != nil {
		return WrapError(ExitSnapshotFailed, err, "tagging snapshot %d as finished", t.ID)
	}
	err = c.snap.SetDefault(conf, t.ID)
	if err != nil {
		return WrapError(ExitSnapshotFailed, err, "promoting snapshot %d", t.ID)
	}
	c.s.Logger().Info("Snapshot %d committed as the new default, reboot to switch", t.ID)

	// the default already switched, retention problems must not fail the run
	err = c.snap.Cleanup(conf, c.cfg.MaxSnapshots)
	if err != nil {
		c.s.Logger().Warn("could not clean up old snapshots: %v", err)
	}
	return nil
}

func (c *Coordinator) resolveBase(snaps snapper.Snapshots, base string) (int, error) {
	switch base {
	case "":
		id := snaps.GetActive()
		if id == 0 {
			id = snaps.GetDefault()
		}
		if id == 0 {
			return 0, Errorf(ExitNoRootConfig, "cannot determine the currently booted snapshot")
		}
		return id, nil
	case BaseDefault:
		id := snaps.GetDefault()
		if id == 0 {
			return 0, Errorf(ExitNoRootConfig, "no default snapshot found")
		}
		return id, nil
	default:
		id, err := parseSnapshotNumber(base)
		if err != nil {
			return 0, err
		}
		ok, err := c.vol.SubvolumeExists("/", btrfs.SnapshotSubvolume(id))
		if err != nil {
			return 0, WrapError(ExitSubvolumeMissing, err, "checking subvolume of snapshot %d", id)
		}
		if !ok {
			return 0, Errorf(ExitUsage, "snapshot %d does not exist", id)
		}
		return id, nil
	}
}

func (c *Coordinator) createWorkspace(t *Transaction) error {
	name := workDirPrefix + strings.SplitN(uuid.NewString(), "-", 2)[0]
	workDir, err := vfs.TempDir(c.s.FS(), "", name)
	if err != nil {
		return fmt.Errorf("creating transaction work directory: %w", err)
	}
	t.WorkDir = workDir
	t.Machine = filepath.Base(workDir)
	t.MountDir = filepath.Join(workDir, "mnt")
	err = vfs.MkdirAll(c.s.FS(), t.MountDir, vfs.DirPerm)
	if err != nil {
		return fmt.Errorf("creating mount tree root: %w", err)
	}
	return nil
}

func (c *Coordinator) rootConfig() (string, error) {
	conf, err := c.snap.RootConfig()
	if err != nil {
		return "", WrapError(ExitNoRootConfig, err, "querying snapper configurations")
	}
	if conf == "" {
		return "", Errorf(ExitNoRootConfig, "no snapper configuration found for the root filesystem")
	}
	return conf, nil
}

func parseSnapshotNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < minSnapshotNumber || n > maxSnapshotNumber {
		return 0, Errorf(ExitUsage, "invalid snapshot number '%s', expected an integer in [%d, %d]",
			arg, minSnapshotNumber, maxSnapshotNumber)
	}
	return n, nil
}
