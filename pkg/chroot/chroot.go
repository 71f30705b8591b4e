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

package chroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/suse/atomic-update/pkg/log"
	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/sys/mounter"
	"github.com/suse/atomic-update/pkg/sys/vfs"
)

// defaultBinds are the API filesystems a snapshot needs from the live system
// to run package managers and arbitrary commands. They are bound recursively
// and set rslave so umount events inside do not propagate back.
var defaultBinds = []string{"/dev", "/proc", "/run", "/sys"}

// Chroot runs commands inside a snapshot mounted at a given path
type Chroot struct {
	path         string
	defaultBinds []string
	extraBinds   map[string]string
	activeMounts []string
	fs           vfs.FS
	mounter      mounter.Interface
	logger       log.Logger
	runner       sys.Runner
	syscall      sys.Syscall
}

type Opts func(c *Chroot)

func NewChroot(s *sys.System, path string, opts ...Opts) *Chroot {
	c := &Chroot{
		path:         path,
		defaultBinds: defaultBinds,
		extraBinds:   map[string]string{},
		activeMounts: []string{},
		runner:       s.Runner(),
		logger:       s.Logger(),
		mounter:      s.Mounter(),
		fs:           s.FS(),
		syscall:      s.Syscall(),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// WithoutDefaultBinds skips the API filesystem binds, for callers assembling
// the mount tree themselves
func WithoutDefaultBinds() Opts {
	return func(c *Chroot) {
		c.defaultBinds = []string{}
	}
}

// ChrootedCallback runs the given callback in a chroot environment
func ChrootedCallback(s *sys.System, path string, bindMounts map[string]string, callback func() error, opts ...Opts) error {
	chroot := NewChroot(s, path, opts...)
	if bindMounts == nil {
		bindMounts = map[string]string{}
	}
	chroot.SetExtraBinds(bindMounts)
	return chroot.RunCallback(callback)
}

// SetExtraBinds sets additional bind mounts for the chroot environment. The
// map key is the path outside the chroot and the value the path inside it.
func (c *Chroot) SetExtraBinds(extraBinds map[string]string) {
	c.extraBinds = extraBinds
}

// Prepare mounts the API filesystems and extra binds, to be ready when we run chroot
func (c *Chroot) Prepare() (err error) {
	if len(c.activeMounts) > 0 {
		return fmt.Errorf("there are already active mountpoints for this instance")
	}

	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	for _, mnt := range c.defaultBinds {
		err = c.bindMount(mnt, filepath.Join(c.path, mnt), "rbind", "rslave")
		if err != nil {
			return err
		}
	}

	keys := []string{}
	for k := range c.extraBinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		err = c.bindMount(k, filepath.Join(c.path, c.extraBinds[k]), "bind")
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Chroot) bindMount(source, mountPoint string, options ...string) error {
	err := vfs.MkdirAll(c.fs, mountPoint, vfs.DirPerm)
	if err != nil {
		return err
	}
	c.logger.Debug("Mounting %s to chroot", mountPoint)
	err = c.mounter.Mount(source, mountPoint, "", options)
	if err != nil {
		return err
	}
	c.activeMounts = append(c.activeMounts, mountPoint)
	return nil
}

// Close unmounts all active mounts created in Prepare in reverse order
func (c *Chroot) Close() (err error) {
	uFailures := []string{}
	// syncing before unmounting as on empty or super fast callbacks
	// unmounting fails with a device busy error
	_, _ = c.runner.Run("sync")
	slices.Reverse(c.activeMounts)
	for _, mnt := range c.activeMounts {
		c.logger.Debug("Unmounting %s from chroot", mnt)
		e := c.mounter.Unmount(mnt)
		if e != nil {
			uFailures = append(uFailures, mnt)
			err = errors.Join(err, fmt.Errorf("unmounting %s: %w", mnt, e))
		}
	}
	c.activeMounts = uFailures
	if err != nil {
		return fmt.Errorf("failed closing chroot environment, unmount failures: %w", err)
	}
	return nil
}

// RunCallback runs the given callback in a chroot environment
func (c *Chroot) RunCallback(callback func() error) (err error) {
	var currentPath string
	var oldRootF *os.File

	// Store the current path
	currentPath, err = os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current path: %w", err)
	}
	defer func() {
		tmpErr := os.Chdir(currentPath)
		if err == nil && tmpErr != nil {
			err = tmpErr
		}
	}()

	// Chroot to an absolute path
	if !filepath.IsAbs(c.path) {
		oldPath := c.path
		c.path = filepath.Clean(filepath.Join(currentPath, c.path))
		c.logger.Warn("Requested chroot path %s is not absolute, changing it to %s", oldPath, c.path)
	}

	// Store current root
	oldRootF, err = c.fs.OpenFile("/", os.O_RDONLY, vfs.DirPerm)
	if err != nil {
		return fmt.Errorf("opening current root: %w", err)
	}
	defer oldRootF.Close()

	if len(c.activeMounts) == 0 {
		err = c.Prepare()
		if err != nil {
			return fmt.Errorf("preparing default mounts: %w", err)
		}
		defer func() {
			tmpErr := c.Close()
			if err == nil {
				err = tmpErr
			}
		}()
	}
	// Change to new dir before running chroot!
	err = c.syscall.Chdir(c.path)
	if err != nil {
		return fmt.Errorf("chdir %s: %w", c.path, err)
	}

	err = c.syscall.Chroot(c.path)
	if err != nil {
		return fmt.Errorf("chroot %s: %w", c.path, err)
	}

	// Restore to old root
	defer func() {
		tmpErr := oldRootF.Chdir()
		if tmpErr != nil {
			c.logger.Error("can't change to old root dir")
			if err == nil {
				err = tmpErr
			}
		} else {
			tmpErr = c.syscall.Chroot(".")
			if tmpErr != nil {
				c.logger.Error("can't chroot back to old root")
				if err == nil {
					err = tmpErr
				}
			}
		}
	}()

	return callback()
}

// ApplyFstab processes the snapshot's own fstab inside the chroot, so
// subvolumes like /var or /home are available to commands running there
func (c *Chroot) ApplyFstab() error {
	out, err := c.Run("mount", "-a")
	if err != nil {
		return fmt.Errorf("processing fstab of %s: %s: %w", c.path, out, err)
	}
	return nil
}

// Run executes a command inside a chroot
func (c *Chroot) Run(command string, args ...string) (out []byte, err error) {
	callback := func() error {
		out, err = c.runner.Run(command, args...)
		return err
	}
	err = c.RunCallback(callback)
	if err != nil {
		c.logger.Error("can't run command %s with args %v on chroot: %s", command, args, err)
		c.logger.Debug("Output from command: %s", out)
	}
	return out, err
}

// RunAttached executes a command inside a chroot with the invoking terminal's
// stdio attached, for interactive sessions
func (c *Chroot) RunAttached(command string, args ...string) error {
	return c.RunCallback(func() error {
		return c.runner.RunAttached(command, args...)
	})
}
