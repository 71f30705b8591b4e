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

type DupFlags struct {
	Interactive bool
	NoVerify    bool
	Shell       bool
	Reboot      bool
	Apply       bool
	Continue    string
}

var DupArgs DupFlags

func NewDupCommand(action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "dup",
		Usage:     "Perform a distribution upgrade in a new snapshot",
		UsageText: fmt.Sprintf("%s dup [OPTIONS]", appName()),
		Action:    action,
		Flags: append(
			transactionFlags(&DupArgs.NoVerify, &DupArgs.Shell, &DupArgs.Reboot,
				&DupArgs.Apply, &DupArgs.Continue),
			&cli.BoolFlag{
				Name:        "interactive",
				Aliases:     []string{"i"},
				Usage:       "Run the upgrade attended, with zypper asking for confirmation",
				Destination: &DupArgs.Interactive,
			},
		),
	}
}

// transactionFlags are shared by all commands opening a transaction
func transactionFlags(noVerify, shell, reboot, apply *bool, cont *string) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "no-verify",
			Usage:       "Skip booting the snapshot for verification before committing",
			Destination: noVerify,
		},
		&cli.BoolFlag{
			Name:        "shell",
			Usage:       "Open a shell in the snapshot after the change, exit 0 to accept it",
			Destination: shell,
		},
		&cli.BoolFlag{
			Name:        "reboot",
			Usage:       "Reboot once the snapshot is committed",
			Destination: reboot,
		},
		&cli.BoolFlag{
			Name:        "apply",
			Usage:       "Bind-swap /usr, /etc and /boot from the committed snapshot onto the running system",
			Destination: apply,
		},
		&cli.StringFlag{
			Name:        "continue",
			Usage:       "Base the snapshot on 'default' or on the given snapshot number instead of the booted one",
			Destination: cont,
		},
	}
}
