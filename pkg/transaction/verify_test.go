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
package transaction_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/suse/atomic-update/pkg/config"
	"github.com/suse/atomic-update/pkg/log"
	"github.com/suse/atomic-update/pkg/snapper"
	"github.com/suse/atomic-update/pkg/sys"
	sysmock "github.com/suse/atomic-update/pkg/sys/mock"
	"github.com/suse/atomic-update/pkg/transaction"
)

var _ = Describe("FailedUnitSet", Label("transaction"), func() {
	It("reports only regressions, sorted", func() {
		baseline := transaction.NewFailedUnitSet([]string{"a.service", "b.service"})
		post := transaction.NewFailedUnitSet([]string{"b.service", "z.service", "c.service"})
		Expect(post.Diff(baseline)).To(Equal([]string{"c.service", "z.service"}))
	})
	It("reports nothing when the post set is not a superset", func() {
		baseline := transaction.NewFailedUnitSet([]string{"a.service", "b.service"})
		post := transaction.NewFailedUnitSet([]string{"a.service"})
		Expect(post.Diff(baseline)).To(BeEmpty())
	})
	It("handles empty sets", func() {
		Expect(transaction.NewFailedUnitSet(nil).Diff(nil)).To(BeEmpty())
	})
})

var _ = Describe("VerificationProbe", Label("transaction"), func() {
	var runner *sysmock.Runner
	var coord *transaction.Coordinator
	var sim *snapperSim
	var systemState string

	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		fs, cleanup, err := sysmock.TestFS(nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cleanup)
		s, err := sys.NewSystem(
			sys.WithRunner(runner), sys.WithMounter(sysmock.NewMounter()),
			sys.WithFS(fs), sys.WithSyscall(&sysmock.Syscall{}),
			sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.Default()
		cfg.RegisterAttempts = 3
		cfg.BootAttempts = 3
		coord = transaction.New(context.Background(), s, cfg,
			transaction.WithPollInterval(time.Millisecond))

		sim = newSnapperSim(
			&snapper.Snapshot{Number: 1, Default: true, Active: true,
				UserData: snapper.Metadata{snapper.StatusKey: "finished"}},
		)
		systemState = "running"

		runner.SideEffect = func(cmd string, args ...string) ([]byte, error) {
			switch cmd {
			case "snapper":
				return sim.handle(args...)
			case "env":
				return sim.handle(args[2:]...)
			case "btrfs":
				return sim.subvolumeList(), nil
			case "findmnt":
				return []byte(`{"filesystems": [{"source": "/dev/vda2", "fstype": "btrfs"}]}`), nil
			case "machinectl":
				if args[0] == "list" {
					return []byte(`[]`), nil
				}
				return []byte{}, nil
			case "systemctl":
				if len(args) > 2 && args[2] == "is-system-running" {
					return []byte(systemState + "\n"), nil
				}
				return []byte(`[]`), nil
			}
			return []byte{}, nil
		}
	})

	It("aborts when the container never registers", func() {
		err := coord.Run(
			transaction.Change{Kind: transaction.Upgrade},
			transaction.Options{Verify: true},
		)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("could not boot ephemeral container"))
		Expect(transaction.ExitCode(err)).To(Equal(transaction.ExitChangeRejected))
		Expect(sim.get(2)).To(BeNil())
	})
	It("aborts when the container never finishes booting", func() {
		runner.SideEffect = wrapSideEffect(runner.SideEffect, func(cmd string, args ...string) ([]byte, bool) {
			if cmd == "machinectl" && args[0] == "list" {
				return []byte(`[{"machine": "` + machineArg(runner) + `"}]`), true
			}
			return nil, false
		})
		systemState = "starting"
		err := coord.Run(
			transaction.Change{Kind: transaction.Upgrade},
			transaction.Options{Verify: true},
		)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("timeout waiting for boot"))
		Expect(transaction.ExitCode(err)).To(Equal(transaction.ExitChangeRejected))
		Expect(sim.get(2)).To(BeNil())
	})
})

// machineArg digs the machine name out of the recorded systemd-run call
func machineArg(r *sysmock.Runner) string {
	for _, cmd := range r.GetCmds() {
		if cmd[0] == "systemd-run" {
			return cmd[3]
		}
	}
	return ""
}

func wrapSideEffect(
	base func(string, ...string) ([]byte, error),
	override func(string, ...string) ([]byte, bool),
) func(string, ...string) ([]byte, error) {
	return func(cmd string, args ...string) ([]byte, error) {
		if out, ok := override(cmd, args...); ok {
			return out, nil
		}
		return base(cmd, args...)
	}
}
