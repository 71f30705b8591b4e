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
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/suse/atomic-update/pkg/log"
	"github.com/suse/atomic-update/pkg/sys"
	sysmock "github.com/suse/atomic-update/pkg/sys/mock"
	"github.com/suse/atomic-update/pkg/sys/vfs"
	"github.com/suse/atomic-update/pkg/transaction"
	"github.com/suse/atomic-update/pkg/zypper"
)

func TestCmdSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cmd test suite")
}

var _ = Describe("Preconditions", Label("preconditions"), func() {
	var fs vfs.FS
	var cleanup func()
	var s *sys.System
	BeforeEach(func() {
		var err error
		fs, cleanup, err = sysmock.TestFS(nil)
		Expect(err).NotTo(HaveOccurred())
		s, err = sys.NewSystem(
			sys.WithRunner(sysmock.NewRunner()), sys.WithFS(fs),
			sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).NotTo(HaveOccurred())
		geteuid = func() int { return 0 }
	})
	AfterEach(func() {
		geteuid = func() int { return 0 }
		cleanup()
	})

	It("rejects unprivileged callers", func() {
		geteuid = func() int { return 1000 }
		err := CheckPreconditions(s, nil, false)
		Expect(err).To(HaveOccurred())
		Expect(transaction.ExitCode(err)).To(Equal(transaction.ExitNotPrivileged))
	})
	It("rejects a missing external command", func() {
		err := CheckPreconditions(s, []string{"no-such-binary-here"}, false)
		Expect(err).To(HaveOccurred())
		Expect(transaction.ExitCode(err)).To(Equal(transaction.ExitMissingDep))
	})
	It("rejects a concurrently running zypper", func() {
		Expect(vfs.MkdirAll(fs, "/run", vfs.DirPerm)).To(Succeed())
		Expect(vfs.MkdirAll(fs, "/proc/4321", vfs.DirPerm)).To(Succeed())
		Expect(fs.WriteFile(zypper.PidFile, []byte("4321\n"), vfs.FilePerm)).To(Succeed())
		err := CheckPreconditions(s, nil, true)
		Expect(err).To(HaveOccurred())
		Expect(transaction.ExitCode(err)).To(Equal(transaction.ExitPackageToolBusy))
	})
	It("tolerates a stale zypper pid file", func() {
		Expect(vfs.MkdirAll(fs, "/run", vfs.DirPerm)).To(Succeed())
		Expect(vfs.MkdirAll(fs, "/proc", vfs.DirPerm)).To(Succeed())
		Expect(fs.WriteFile(zypper.PidFile, []byte("4321\n"), vfs.FilePerm)).To(Succeed())
		Expect(CheckPreconditions(s, nil, true)).To(Succeed())
	})
	It("does not report busy when the lock cannot be inspected", func() {
		// an unreadable pid file fails the check itself
		Expect(vfs.MkdirAll(fs, zypper.PidFile, vfs.DirPerm)).To(Succeed())
		err := CheckPreconditions(s, nil, true)
		Expect(err).To(HaveOccurred())
		Expect(transaction.ExitCode(err)).To(Equal(transaction.ExitMissingDep))
	})
	It("passes with privilege, no lock and no binaries to check", func() {
		Expect(CheckPreconditions(s, nil, true)).To(Succeed())
	})
})
