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
package zypper_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/suse/atomic-update/pkg/log"
	"github.com/suse/atomic-update/pkg/sys"
	sysmock "github.com/suse/atomic-update/pkg/sys/mock"
	"github.com/suse/atomic-update/pkg/sys/vfs"
	"github.com/suse/atomic-update/pkg/zypper"
)

const dryRunReport = `<?xml version='1.0'?>
<stream>
<install-summary download-size="104857600" space-usage-diff="2048" packages-to-change="17">
<to-upgrade><solvable type="package" name="glibc"/></to-upgrade>
</install-summary>
</stream>`

const emptyDryRunReport = `<?xml version='1.0'?>
<stream>
<install-summary download-size="0" space-usage-diff="0" packages-to-change="0"/>
</stream>`

func TestZypperSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Zypper test suite")
}

var _ = Describe("Zypper", Label("zypper"), func() {
	var runner *sysmock.Runner
	var fs vfs.FS
	var cleanup func()
	var s *sys.System
	var z *zypper.Zypper
	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		fs, cleanup, err = sysmock.TestFS(nil)
		Expect(err).NotTo(HaveOccurred())
		s, err = sys.NewSystem(
			sys.WithRunner(runner), sys.WithFS(fs),
			sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).NotTo(HaveOccurred())
		z = zypper.New(s)
	})
	AfterEach(func() {
		cleanup()
	})

	Describe("lock detection", func() {
		It("is unlocked without a pid file", func() {
			locked, err := z.IsLocked()
			Expect(err).NotTo(HaveOccurred())
			Expect(locked).To(BeFalse())
		})
		It("is locked when the pid file names a live process", func() {
			Expect(vfs.MkdirAll(fs, "/run", vfs.DirPerm)).To(Succeed())
			Expect(vfs.MkdirAll(fs, "/proc/1234", vfs.DirPerm)).To(Succeed())
			Expect(fs.WriteFile(zypper.PidFile, []byte("1234\n"), vfs.FilePerm)).To(Succeed())
			locked, err := z.IsLocked()
			Expect(err).NotTo(HaveOccurred())
			Expect(locked).To(BeTrue())
		})
		It("ignores a stale pid file", func() {
			Expect(vfs.MkdirAll(fs, "/run", vfs.DirPerm)).To(Succeed())
			Expect(vfs.MkdirAll(fs, "/proc", vfs.DirPerm)).To(Succeed())
			Expect(fs.WriteFile(zypper.PidFile, []byte("1234\n"), vfs.FilePerm)).To(Succeed())
			locked, err := z.IsLocked()
			Expect(err).NotTo(HaveOccurred())
			Expect(locked).To(BeFalse())
		})
		It("ignores a garbled pid file", func() {
			Expect(vfs.MkdirAll(fs, "/run", vfs.DirPerm)).To(Succeed())
			Expect(fs.WriteFile(zypper.PidFile, []byte("bogus"), vfs.FilePerm)).To(Succeed())
			locked, err := z.IsLocked()
			Expect(err).NotTo(HaveOccurred())
			Expect(locked).To(BeFalse())
		})
	})

	Describe("dry-run", func() {
		It("reports the pending change count", func() {
			runner.ReturnValue = []byte(dryRunReport)
			count, err := z.PendingChanges(context.Background(), "/tmp/mnt")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(17))
			Expect(runner.CmdsMatch([][]string{
				{"zypper", "--root", "/tmp/mnt", "--non-interactive", "--xmlout", "dist-upgrade", "--dry-run"},
			})).To(Succeed())
		})
		It("reports zero pending changes on an up to date system", func() {
			runner.ReturnValue = []byte(emptyDryRunReport)
			count, err := z.PendingChanges(context.Background(), "/tmp/mnt")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(0))
		})
		It("fails on an unparseable report", func() {
			runner.ReturnValue = []byte("this is not xml")
			_, err := z.PendingChanges(context.Background(), "/tmp/mnt")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("dist-upgrade", func() {
		It("runs unattended", func() {
			Expect(z.DistUpgrade(context.Background(), "/tmp/mnt", false)).To(Succeed())
			Expect(runner.CmdsMatch([][]string{
				{"zypper", "--root", "/tmp/mnt", "--non-interactive", "dist-upgrade"},
			})).To(Succeed())
		})
		It("streams unattended progress to the logger", func() {
			b := &bytes.Buffer{}
			bs, err := sys.NewSystem(
				sys.WithRunner(runner), sys.WithFS(fs),
				sys.WithLogger(log.New(log.WithBuffer(b))),
			)
			Expect(err).NotTo(HaveOccurred())
			runner.ReturnValue = []byte("Retrieving package glibc\nInstalling: glibc\n")
			Expect(zypper.New(bs).DistUpgrade(context.Background(), "/tmp/mnt", false)).To(Succeed())
			Expect(b.String()).To(ContainSubstring("Retrieving package glibc"))
			Expect(b.String()).To(ContainSubstring("Installing: glibc"))
		})
		It("runs attended with the terminal attached", func() {
			Expect(z.DistUpgrade(context.Background(), "/tmp/mnt", true)).To(Succeed())
			Expect(runner.CmdsMatch([][]string{
				{"zypper", "--root", "/tmp/mnt", "dist-upgrade"},
			})).To(Succeed())
		})
		It("fails when zypper fails", func() {
			runner.ReturnError = errors.New("zypper exit 104")
			Expect(z.DistUpgrade(context.Background(), "/tmp/mnt", false)).NotTo(Succeed())
		})
	})
})
