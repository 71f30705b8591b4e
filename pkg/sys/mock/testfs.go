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

package mock

import (
	"io/fs"
	"os"

	"github.com/suse/atomic-update/pkg/sys/vfs"
	"github.com/twpayne/go-vfs/v4/vfst"
)

type testFS struct {
	fs *vfst.TestFS
}

var _ vfs.FS = (*testFS)(nil)

// TestFS creates a test filesystem populated with the given contents, which
// follow the go-vfs vfst builder conventions (path to file content or
// permissions maps). The returned cleanup function removes the backing
// temporary directory.
func TestFS(contents any) (vfs.FS, func(), error) {
	tfs, cleanup, err := vfst.NewTestFS(contents)
	if err != nil {
		return nil, func() {}, err
	}
	return &testFS{fs: tfs}, cleanup, nil
}

func (f testFS) Chmod(name string, mode fs.FileMode) error {
	return f.fs.Chmod(name, mode)
}

func (f testFS) Create(name string) (*os.File, error) {
	return f.fs.Create(name)
}

func (f testFS) Link(oldname, newname string) error {
	return f.fs.Link(oldname, newname)
}

func (f testFS) Lstat(name string) (fs.FileInfo, error) {
	return f.fs.Lstat(name)
}

func (f testFS) Mkdir(name string, perm fs.FileMode) error {
	return f.fs.Mkdir(name, perm)
}

func (f testFS) Open(name string) (fs.File, error) {
	return f.fs.Open(name)
}

func (f testFS) OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	return f.fs.OpenFile(name, flag, perm)
}

func (f testFS) RawPath(name string) (string, error) {
	return f.fs.RawPath(name)
}

func (f testFS) ReadDir(dirname string) ([]fs.DirEntry, error) {
	return f.fs.ReadDir(dirname)
}

func (f testFS) ReadFile(filename string) ([]byte, error) {
	return f.fs.ReadFile(filename)
}

func (f testFS) Readlink(name string) (string, error) {
	return f.fs.Readlink(name)
}

func (f testFS) Remove(name string) error {
	return f.fs.Remove(name)
}

func (f testFS) RemoveAll(name string) error {
	return f.fs.RemoveAll(name)
}

func (f testFS) Rename(oldpath, newpath string) error {
	return f.fs.Rename(oldpath, newpath)
}

func (f testFS) Stat(name string) (fs.FileInfo, error) {
	return f.fs.Stat(name)
}

func (f testFS) Symlink(oldname, newname string) error {
	return f.fs.Symlink(oldname, newname)
}

func (f testFS) WriteFile(filename string, data []byte, perm fs.FileMode) error {
	return f.fs.WriteFile(filename, data, perm)
}
