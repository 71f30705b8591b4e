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

package release

import (
	"os"

	"github.com/suse/atomic-update/pkg/sys"
	"github.com/suse/atomic-update/pkg/sys/vfs"
)

const osReleaseFile = "/etc/os-release"

// Release describes the distribution identity of a root filesystem
type Release struct {
	ID         string
	Name       string
	Version    string
	PrettyName string
}

// Load reads the os-release identity of the given root. A root without an
// os-release file yields an empty Release, not an error.
func Load(s *sys.System, root string) (Release, error) {
	file := root + osReleaseFile
	env, err := vfs.LoadEnvFile(s.FS(), file)
	if err != nil {
		if os.IsNotExist(err) {
			return Release{}, nil
		}
		return Release{}, err
	}
	return Release{
		ID:         env["ID"],
		Name:       env["NAME"],
		Version:    env["VERSION_ID"],
		PrettyName: env["PRETTY_NAME"],
	}, nil
}
