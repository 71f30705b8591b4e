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
package release_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/suse/atomic-update/pkg/release"
	"github.com/suse/atomic-update/pkg/sys"
	sysmock "github.com/suse/atomic-update/pkg/sys/mock"
)

const osRelease = `NAME="openSUSE Tumbleweed"
ID=opensuse-tumbleweed
VERSION_ID="20250820"
PRETTY_NAME="openSUSE Tumbleweed"
`

func TestReleaseSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Release test suite")
}

var _ = Describe("Release", Label("release"), func() {
	It("loads the distribution identity of a root", func() {
		fs, cleanup, err := sysmock.TestFS(map[string]string{
			"/etc/os-release": osRelease,
		})
		Expect(err).NotTo(HaveOccurred())
		defer cleanup()
		s, err := sys.NewSystem(sys.WithFS(fs))
		Expect(err).NotTo(HaveOccurred())

		rel, err := release.Load(s, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(rel.ID).To(Equal("opensuse-tumbleweed"))
		Expect(rel.Name).To(Equal("openSUSE Tumbleweed"))
		Expect(rel.Version).To(Equal("20250820"))
		Expect(rel.PrettyName).To(Equal("openSUSE Tumbleweed"))
	})
	It("yields an empty identity without an os-release file", func() {
		fs, cleanup, err := sysmock.TestFS(nil)
		Expect(err).NotTo(HaveOccurred())
		defer cleanup()
		s, err := sys.NewSystem(sys.WithFS(fs))
		Expect(err).NotTo(HaveOccurred())

		rel, err := release.Load(s, "/some/root")
		Expect(err).NotTo(HaveOccurred())
		Expect(rel).To(Equal(release.Release{}))
	})
})
