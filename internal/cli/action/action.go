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
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/suse/atomic-update/pkg/transaction"
)

// exit maps engine errors to their process exit code. A nil error stays nil
// so urfave/cli reports plain success.
func exit(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), transaction.ExitCode(err))
}

// interruptibleContext cancels on SIGINT/SIGTERM so the coordinator aborts
// at the next lifecycle boundary and cleans up. While the subscription is
// active a second signal is swallowed instead of killing the process
// mid-cleanup.
func interruptibleContext(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
}
