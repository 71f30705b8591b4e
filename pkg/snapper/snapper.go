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

package snapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/suse/atomic-update/pkg/sys"
)

// StatusKey is the snapper userdata key tracking the lifecycle of snapshots
// managed by this engine. Snapshots without it are not ours to touch.
const StatusKey = "atomic"

// SnapshotsPath is the well known snapper location of snapshots within a subvolume
const SnapshotsPath = ".snapshots"

type Status string

const (
	// StatusCreated tags a snapshot right after creation, before its backing
	// subvolume has been confirmed to exist
	StatusCreated Status = "created"
	// StatusPending tags a snapshot being mutated by an open transaction
	StatusPending Status = "pending"
	// StatusFinished tags a successfully committed snapshot
	StatusFinished Status = "finished"
	// StatusNone marks snapshots this engine does not manage
	StatusNone Status = ""
)

type Snapper struct {
	s *sys.System
}

type Metadata map[string]string

type Snapshot struct {
	Number      int      `json:"number"`
	Default     bool     `json:"default"`
	Active      bool     `json:"active"`
	Description string   `json:"description,omitempty"`
	UserData    Metadata `json:"userdata,omitempty"`
}

// Status returns the engine lifecycle tag of the snapshot, StatusNone if untagged
func (s Snapshot) Status() Status {
	if s.UserData == nil {
		return StatusNone
	}
	return Status(s.UserData[StatusKey])
}

type Snapshots []*Snapshot

func (s Snapshots) GetDefault() int {
	for _, snap := range s {
		if snap.Default {
			return snap.Number
		}
	}
	return 0
}

func (s Snapshots) GetActive() int {
	for _, snap := range s {
		if snap.Active {
			return snap.Number
		}
	}
	return 0
}

// GetWithStatus returns the snapshot numbers carrying any of the given status tags
func (s Snapshots) GetWithStatus(statuses ...Status) []int {
	ids := []int{}
	for _, snap := range s {
		for _, status := range statuses {
			if snap.Status() == status {
				ids = append(ids, snap.Number)
				break
			}
		}
	}
	return ids
}

// Get returns the snapshot with the given number, nil if not listed
func (s Snapshots) Get(number int) *Snapshot {
	for _, snap := range s {
		if snap.Number == number {
			return snap
		}
	}
	return nil
}

func (m Metadata) String() string {
	var str string
	for k, v := range m {
		str += fmt.Sprintf("%s=%s,", k, v)
	}
	return strings.TrimSuffix(str, ",")
}

func New(s *sys.System) *Snapper {
	return &Snapper{s: s}
}

type config struct {
	Config    string `json:"config"`
	SubVolume string `json:"subvolume"`
}

// RootConfig returns the name of the snapper configuration covering the root
// filesystem ("/"). An empty name means no such configuration exists.
func (sn Snapper) RootConfig() (string, error) {
	cmdOut, err := sn.s.Runner().Run("snapper", "--no-dbus", "--jsonout", "list-configs")
	if err != nil {
		sn.s.Logger().Error("failed listing snapper configurations: %s", strings.TrimSpace(string(cmdOut)))
		return "", err
	}

	var objmap map[string][]config
	err = json.Unmarshal(cmdOut, &objmap)
	if err != nil {
		return "", fmt.Errorf("unmarshalling snapper configurations: %w", err)
	}
	for _, conf := range objmap["configs"] {
		if conf.SubVolume == "/" {
			return conf.Config, nil
		}
	}
	return "", nil
}

// ListSnapshots returns the snapshots of the given configuration. Snapshot 0
// (the live filesystem) is always skipped.
func (sn Snapper) ListSnapshots(conf string) (Snapshots, error) {
	args := []string{"--no-dbus", "-c", conf, "--jsonout", "list", "--disable-used-space"}
	cmdOut, err := sn.s.Runner().Run("snapper", args...)
	if err != nil {
		sn.s.Logger().Error("failed collecting snapshots: %s", strings.TrimSpace(string(cmdOut)))
		return nil, err
	}
	return unmarshalSnapperList(cmdOut, conf)
}

// CreateFrom creates a new read-write snapshot based on the given one and
// returns its number. The snapshot is tagged with the given metadata.
func (sn Snapper) CreateFrom(conf string, base int, description string, metadata Metadata) (int, error) {
	args := []string{"LC_ALL=C", "snapper", "--no-dbus", "-c", conf, "create",
		"--print-number", "-c", "number", "--from", strconv.Itoa(base), "--read-write"}
	if description != "" {
		args = append(args, "--description", description)
	}
	if len(metadata) > 0 {
		args = append(args, "--userdata", metadata.String())
	}

	cmdOut, err := sn.s.Runner().Run("env", args...)
	if err != nil {
		sn.s.Logger().Error("snapper failed to create a new snapshot: %s", strings.TrimSpace(string(cmdOut)))
		return 0, err
	}
	newSnap, err := strconv.Atoi(strings.TrimSpace(string(cmdOut)))
	if err != nil {
		return 0, fmt.Errorf("parsing new snapshot number: %w", err)
	}
	return newSnap, nil
}

// SetStatus updates the engine lifecycle tag of the given snapshot
func (sn Snapper) SetStatus(conf string, id int, status Status) error {
	meta := Metadata{StatusKey: string(status)}
	cmdOut, err := sn.s.Runner().Run(
		"snapper", "--no-dbus", "-c", conf, "modify",
		"--userdata", meta.String(), strconv.Itoa(id),
	)
	if err != nil {
		sn.s.Logger().Error("snapper failed to tag snapshot %d as '%s': %s", id, status, strings.TrimSpace(string(cmdOut)))
		return err
	}
	return nil
}

// SetDefault promotes the given snapshot to be the next boot target
func (sn Snapper) SetDefault(conf string, id int) error {
	sn.s.Logger().Info("Setting default snapshot to %d", id)
	cmdOut, err := sn.s.Runner().Run(
		"snapper", "--no-dbus", "-c", conf, "modify", "--default", strconv.Itoa(id),
	)
	if err != nil {
		sn.s.Logger().Error("snapper failed to set default snapshot: %s", strings.TrimSpace(string(cmdOut)))
		return err
	}
	return nil
}

// Delete discards the given snapshot
func (sn Snapper) Delete(conf string, id int) error {
	sn.s.Logger().Info("Deleting snapshot %d", id)
	cmdOut, err := sn.s.Runner().Run(
		"snapper", "--no-dbus", "-c", conf, "delete", strconv.Itoa(id),
	)
	if err != nil {
		sn.s.Logger().Error("snapper failed to delete snapshot %d: %s", id, strings.TrimSpace(string(cmdOut)))
		return err
	}
	return nil
}

// Unfinished lists snapshots still tagged as created or pending. Any such
// snapshot outside an open transaction is a leftover of an interrupted run.
func (sn Snapper) Unfinished(conf string) ([]int, error) {
	snaps, err := sn.ListSnapshots(conf)
	if err != nil {
		return nil, err
	}
	return snaps.GetWithStatus(StatusCreated, StatusPending), nil
}

// Cleanup deletes the oldest finished snapshots of this engine exceeding
// maxSnaps. Default and active snapshots are never removed.
func (sn Snapper) Cleanup(conf string, maxSnaps int) error {
	snaps, err := sn.ListSnapshots(conf)
	if err != nil {
		sn.s.Logger().Error("cannot proceed with snapshots cleanup")
		return err
	}
	finished := snaps.GetWithStatus(StatusFinished)
	deletes := len(finished) - maxSnaps
	for _, id := range finished {
		if deletes <= 0 {
			break
		}
		snap := snaps.Get(id)
		if snap.Active || snap.Default {
			continue
		}
		err = sn.Delete(conf, id)
		if err != nil {
			return err
		}
		deletes--
	}
	return nil
}

func unmarshalSnapperList(snapperOut []byte, conf string) (Snapshots, error) {
	var objmap map[string]*json.RawMessage
	err := json.Unmarshal(snapperOut, &objmap)
	if err != nil {
		return nil, err
	}

	if _, ok := objmap[conf]; !ok {
		return nil, fmt.Errorf("invalid json object, no '%s' key found", conf)
	}

	var snaps Snapshots
	err = json.Unmarshal(*objmap[conf], &snaps)
	if err != nil {
		return nil, err
	}

	// Skip snapshot 0 from the list
	var snapshots Snapshots
	for _, snap := range snaps {
		if snap.Number == 0 {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}
