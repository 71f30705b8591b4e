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
package nspawn_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/suse/atomic-update/pkg/log"
	"github.com/suse/atomic-update/pkg/nspawn"
	"github.com/suse/atomic-update/pkg/sys"
	sysmock "github.com/suse/atomic-update/pkg/sys/mock"
)

const machineList = `[
  {"machine": "atomic-update-42abc", "class": "container", "service": "systemd-nspawn"},
  {"machine": "other-vm", "class": "vm", "service": "libvirt"}
]`

const failedUnits = `[
  {"unit": "foo.service", "load": "loaded", "active": "failed", "sub": "failed"},
  {"unit": "bar.service", "load": "loaded", "active": "failed", "sub": "failed"}
]`

func TestNspawnSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Nspawn test suite")
}

var _ = Describe("Nspawn", Label("nspawn"), func() {
	var runner *sysmock.Runner
	var s *sys.System
	var n *nspawn.Nspawn
	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		s, err = sys.NewSystem(
			sys.WithRunner(runner),
			sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).NotTo(HaveOccurred())
		n = nspawn.New(s)
	})

	It("boots an ephemeral container through a transient unit", func() {
		Expect(n.Boot("/tmp/mnt", "atomic-update-42abc")).To(Succeed())
		Expect(runner.CmdsMatch([][]string{
			{
				"systemd-run", "--collect", "--unit", "atomic-update-42abc",
				"systemd-nspawn", "--boot", "--ephemeral",
				"--directory", "/tmp/mnt", "--machine", "atomic-update-42abc",
			},
		})).To(Succeed())
	})
	It("fails booting when systemd-run fails", func() {
		runner.ReturnError = errors.New("launch error")
		Expect(n.Boot("/tmp/mnt", "atomic-update-42abc")).NotTo(Succeed())
	})
	It("finds registered machines", func() {
		runner.ReturnValue = []byte(machineList)
		ok, err := n.IsRegistered("atomic-update-42abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		ok, err = n.IsRegistered("atomic-update-gone")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
	It("reports the machine system state", func() {
		runner.ReturnValue = []byte("degraded\n")
		state, err := n.SystemState("atomic-update-42abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(nspawn.StateDegraded))
	})
	It("keeps polling while the state query fails without output", func() {
		runner.ReturnError = errors.New("Host is down")
		state, err := n.SystemState("atomic-update-42abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeEmpty())
	})
	It("reports a non-running state even when systemctl exits non-zero", func() {
		runner.ReturnValue = []byte("starting\n")
		runner.ReturnError = errors.New("exit status 1")
		state, err := n.SystemState("atomic-update-42abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal("starting"))
	})
	It("collects failed units", func() {
		runner.ReturnValue = []byte(failedUnits)
		units, err := n.FailedUnits("atomic-update-42abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(units).To(Equal([]string{"foo.service", "bar.service"}))
		Expect(runner.CmdsMatch([][]string{
			{"systemctl", "-M", "atomic-update-42abc", "--output", "json", "list-units", "--state=failed"},
		})).To(Succeed())
	})
	It("terminates a registered machine", func() {
		runner.SideEffect = func(cmd string, args ...string) ([]byte, error) {
			if cmd == "machinectl" && args[0] == "list" {
				return []byte(machineList), nil
			}
			return []byte{}, nil
		}
		Expect(n.Terminate("atomic-update-42abc")).To(Succeed())
		Expect(runner.IncludesCmds([][]string{
			{"machinectl", "terminate", "atomic-update-42abc"},
		})).To(Succeed())
	})
	It("is a no-op terminating a machine that already went away", func() {
		runner.ReturnValue = []byte(`[]`)
		Expect(n.Terminate("atomic-update-gone")).To(Succeed())
		Expect(runner.CmdsMatch([][]string{
			{"machinectl", "list", "--output", "json"},
		})).To(Succeed())
	})
})
