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

	"github.com/suse/atomic-update/internal/cli/app"
	"github.com/suse/atomic-update/pkg/log"
	"github.com/suse/atomic-update/pkg/sys"
)

const Usage = "Transactional, atomic updates for btrfs-backed systems"

func appName() string {
	return app.Name()
}

func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Set logging at debug level",
		},
	}
}

func Setup(ctx *cli.Context) error {
	s, err := sys.NewSystem()
	if err != nil {
		return err
	}

	if ctx.Bool("debug") {
		s.Logger().SetLevel(log.DebugLevel())
	}
	if ctx.App.Metadata == nil {
		ctx.App.Metadata = map[string]any{}
	}
	ctx.App.Metadata["system"] = s
	return nil
}

// System fetches the system abstraction prepared by Setup
func System(ctx *cli.Context) (*sys.System, error) {
	if ctx.App.Metadata == nil || ctx.App.Metadata["system"] == nil {
		return nil, fmt.Errorf("error setting up initial configuration")
	}
	return ctx.App.Metadata["system"].(*sys.System), nil
}
