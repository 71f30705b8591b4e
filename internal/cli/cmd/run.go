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
	"fmt"

	"github.com/urfave/cli/v2"
)

type RunFlags struct {
	NoVerify bool
	Shell    bool
	Reboot   bool
	Apply    bool
	Continue string
}

var RunArgs RunFlags

func NewRunCommand(action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a command in a new snapshot",
		UsageText: fmt.Sprintf("%s run [OPTIONS] -- <command> [args...]", appName()),
		Action:    action,
		Flags: transactionFlags(&RunArgs.NoVerify, &RunArgs.Shell, &RunArgs.Reboot,
			&RunArgs.Apply, &RunArgs.Continue),
	}
}
