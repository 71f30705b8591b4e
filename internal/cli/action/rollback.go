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

// Rollback promotes an existing snapshot to be the next boot target
func Rollback(ctx *cli.Context) error {
	args := &cmd.RollbackArgs
	s, err := cmd.System(ctx)
	if err != nil {
		return err
	}

	if ctx.Args().Len() > 1 {
		return exit(transaction.Errorf(transaction.ExitUsage, "rollback takes at most one snapshot number"))
	}

	err = cmd.CheckPreconditions(s, cmd.RollbackBinaries, false)
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
	err = coord.Rollback(ctx.Args().First(), args.Reboot)
	if err != nil {
		s.Logger().Error("rollback failed: %v", err)
	}
	return exit(err)
}
