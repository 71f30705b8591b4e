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

package cleanstack

import (
	"errors"
)

type jobCondition int

const (
	always jobCondition = iota
	onError
	onSuccess
)

type Job struct {
	callback func() error
	when     jobCondition
}

func (j Job) Run() error {
	return j.callback()
}

// CleanStack is a LIFO stack of cleanup callbacks. Callbacks are registered
// as resources get allocated and executed in reverse order at cleanup time,
// so no cleanup ever targets a resource its successors still depend on.
type CleanStack struct {
	jobs []*Job
}

func NewCleanStack() *CleanStack {
	return &CleanStack{}
}

// Push adds a callback executed on any Cleanup call
func (cs *CleanStack) Push(callback func() error) {
	cs.jobs = append(cs.jobs, &Job{callback: callback, when: always})
}

// PushErrorOnly adds a callback executed only if Cleanup runs with a previous error
func (cs *CleanStack) PushErrorOnly(callback func() error) {
	cs.jobs = append(cs.jobs, &Job{callback: callback, when: onError})
}

// PushSuccessOnly adds a callback executed only if no error is hit at the time
// the callback is reached
func (cs *CleanStack) PushSuccessOnly(callback func() error) {
	cs.jobs = append(cs.jobs, &Job{callback: callback, when: onSuccess})
}

// Pop removes and returns the top job of the stack, nil if empty
func (cs *CleanStack) Pop() *Job {
	if len(cs.jobs) == 0 {
		return nil
	}
	job := cs.jobs[len(cs.jobs)-1]
	cs.jobs = cs.jobs[:len(cs.jobs)-1]
	return job
}

// Cleanup runs the whole stack in reverse order. The given error, if any, is
// always preserved and returned first; errors raised by the callbacks
// themselves are joined after it. Conditional jobs evaluate the error state
// at the time they are reached, so a failing cleanup callback triggers the
// remaining error-only jobs.
func (cs *CleanStack) Cleanup(err error) error {
	for job := cs.Pop(); job != nil; job = cs.Pop() {
		switch job.when {
		case onError:
			if err == nil {
				continue
			}
		case onSuccess:
			if err != nil {
				continue
			}
		}
		e := job.Run()
		if e != nil {
			err = errors.Join(err, e)
		}
	}
	return err
}
