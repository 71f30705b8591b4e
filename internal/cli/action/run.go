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
	"github.com/suse/atomic-update/pkg/transaction"
)

// Run executes an arbitrary command inside a new snapshot and promotes it
// on success
func Run(ctx *cli.Context) error {
	args := &cmd.RunArgs
	s, err := cmd.System(ctx)
	if err != nil {
		return err
	}

	if ctx.Args().Len() == 0 {
		return exit(transaction.Errorf(transaction.ExitUsage, "no command given"))
	}

	err = cmd.CheckPreconditions(s, cmd.TransactionBinaries, false)
	if err != nil {
		s.Logger().Error("%v", err)
		return exit(err)
	}
	cfg, err := config.Load(s, config.DefaultPath)
	if err != nil {
		return exit(err)
	}

	sigCtx, stop := interruptibleContext(ctx)
	defer stop()

	coord := transaction.New(sigCtx, s, cfg)
	err = coord.Run(
		transaction.Change{
			Kind:  transaction.Command,
			Args:  ctx.Args().Slice(),
			Shell: args.Shell,
		},
		transaction.Options{
			Verify: !args.NoVerify,
			Apply:  args.Apply,
			Reboot: args.Reboot,
			Base:   args.Continue,
		},
	)
	if err != nil {
		s.Logger().Error("command transaction failed: %v", err)
	}
	return exit(err)
}
