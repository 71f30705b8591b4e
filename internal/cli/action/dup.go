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

package action

import (
	"github.com/urfave/cli/v2"

	"github.com/suse/atomic-update/internal/cli/cmd"
	"github.com/suse/atomic-update/pkg/config"
	"github.com/suse/atomic-update/pkg/release"
	"github.com/suse/atomic-update/pkg/transaction"
)

// Dup performs a distribution upgrade inside a new snapshot and promotes it
// on success
func Dup(ctx *cli.Context) error {
	args := &cmd.DupArgs
	s, err := cmd.System(ctx)
	if err != nil {
		return err
	}

	err = cmd.CheckPreconditions(s, cmd.TransactionBinaries, true)
	if err != nil {
		s.Logger().Error("%v", err)
		return exit(err)
	}
	cfg, err := config.Load(s, config.DefaultPath)
	if err != nil {
		return exit(err)
	}

	rel, err := release.Load(s, "/")
	if err == nil && rel.PrettyName != "" {
		s.Logger().Info("Starting distribution upgrade of %s", rel.PrettyName)
	}

	sigCtx, stop := interruptibleContext(ctx)
	defer stop()

	coord := transaction.New(sigCtx, s, cfg)
	err = coord.Run(
		transaction.Change{
			Kind:        transaction.Upgrade,
			Interactive: args.Interactive,
			Shell:       args.Shell,
		},
		transaction.Options{
			Verify: !args.NoVerify,
			Apply:  args.Apply,
			Reboot: args.Reboot,
			Base:   args.Continue,
		},
	)
	if err != nil {
		s.Logger().Error("distribution upgrade failed: %v", err)
	}
	return exit(err)
}
