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

package vfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	DirPerm     = os.ModeDir | os.ModePerm
	FilePerm    = 0666
	TempDirPerm = os.ModePerm | os.ModeSticky | os.ModeDir
)

type FS interface {
	Chmod(name string, mode fs.FileMode) error
	Create(name string) (*os.File, error)
	Link(oldname, newname string) error
	Lstat(name string) (fs.FileInfo, error)
	Mkdir(name string, perm fs.FileMode) error
	Open(name string) (fs.File, error)
	OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error)
	RawPath(name string) (string, error)
	ReadDir(dirname string) ([]fs.DirEntry, error)
	ReadFile(filename string) ([]byte, error)
	Readlink(name string) (string, error)
	Remove(name string) error
	RemoveAll(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (fs.FileInfo, error)
	Symlink(oldname, newname string) error
	WriteFile(filename string, data []byte, perm fs.FileMode) error
}

// Exists checks if a file or directory exists, follow flag determines to
// follow or not symlinks to check files existence.
func Exists(fs FS, path string, follow ...bool) (bool, error) {
	var err error
	if len(follow) > 0 && follow[0] {
		_, err = fs.Stat(path)
	} else {
		_, err = fs.Lstat(path)
	}
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// IsDir checks if the path is a directory. follow flag determines to follow symlinks.
func IsDir(f FS, path string, follow ...bool) (bool, error) {
	var err error
	var fi fs.FileInfo

	if len(follow) > 0 && follow[0] {
		fi, err = f.Stat(path)
	} else {
		fi, err = f.Lstat(path)
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

// RemoveAll removes the specified path. It silently drops NotExists errors.
func RemoveAll(fs FS, path string) error {
	err := fs.RemoveAll(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MkdirAll is equivalent to os.MkdirAll but operates on fileSystem.
// Code ported from go-vfs library
func MkdirAll(fileSystem FS, path string, perm fs.FileMode) error {
	err := fileSystem.Mkdir(path, perm)
	switch {
	case err == nil:
		// Mkdir was successful.
		return nil
	case errors.Is(err, fs.ErrExist):
		// path already exists, but we don't know whether it's a directory or
		// something else. We get this error if we try to create a subdirectory
		// of a non-directory, for example if the parent directory of path is a
		// file. There's a race condition here between the call to Mkdir and the
		// call to Stat but we can't avoid it because there's not enough
		// information in the returned error from Mkdir.
		info, statErr := fileSystem.Stat(path)
		if statErr != nil {
			return statErr
		}
		if !info.IsDir() {
			return err
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		// Parent directory does not exist. Create the parent directory
		// recursively, then try again.
		parentDir := filepath.Dir(path)
		if parentDir == "/" || parentDir == "." {
			return err
		}
		if err := MkdirAll(fileSystem, parentDir, perm); err != nil {
			return err
		}
		return fileSystem.Mkdir(path, perm)
	default:
		return err
	}
}

// LoadEnvFile parses the given environment-style file (KEY=value lines)
// and returns a map with the key/values
func LoadEnvFile(fs FS, file string) (map[string]string, error) {
	f, err := fs.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	envMap, err := godotenv.Parse(f)
	if err != nil {
		return nil, err
	}

	return envMap, nil
}

// Random number state.
// We generate random temporary directory names so that there's a good
// chance the directory doesn't exist yet.
var (
	randSeed uint32
	randmu   sync.Mutex
)

func reseed() uint32 {
	return uint32(time.Now().UnixNano() + int64(os.Getpid()))
}

func nextRandom() string {
	randmu.Lock()
	r := randSeed
	if r == 0 {
		r = reseed()
	}
	r = r*1664525 + 1013904223 // constants from Numerical Recipes
	randSeed = r
	randmu.Unlock()
	return strconv.Itoa(int(1e9 + r%1e9))[1:]
}

// TempDir creates a temp directory in the virtual fs
// Took from afero.FS code and adapted
func TempDir(fs FS, dir, prefix string) (name string, err error) {
	var raw string
	if dir == "" {
		dir = os.TempDir()
	}

	// This skips adding random stuff on test fs. This makes unit tests predictable
	try := filepath.Join(dir, prefix)
	raw, err = fs.RawPath(try)
	if err == nil && raw != try {
		err = MkdirAll(fs, try, 0700)
		if err == nil {
			name = try
		}
		return
	}

	nconflict := 0
	for i := 0; i < 10000; i++ {
		try = filepath.Join(dir, prefix+nextRandom())
		err = MkdirAll(fs, try, 0700)
		if os.IsExist(err) {
			if nconflict++; nconflict > 10 {
				randmu.Lock()
				randSeed = reseed()
				randmu.Unlock()
			}
			continue
		}
		if err == nil {
			name = try
		}
		break
	}
	return
}
