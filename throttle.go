// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"sync"
	"sync/atomic"
)

// throttle runs work in goroutines while capping concurrency and
// retaining the first reported error.
type throttle struct {
	ch        chan bool
	wg        sync.WaitGroup
	err       atomic.Value
	errorOnce sync.Once
}

func newThrottle(max int) *throttle {
	if max < 1 {
		max = 1
	}
	return &throttle{ch: make(chan bool, max)}
}

// Go runs f in a new goroutine once a slot is free.
func (t *throttle) Go(f func() error) {
	t.wg.Add(1)
	t.ch <- true
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		t.Report(f())
	}()
}

// Report retains err if it is the first non-nil error reported.
func (t *throttle) Report(err error) {
	if err != nil {
		t.errorOnce.Do(func() { t.err.Store(err) })
	}
}

func (t *throttle) Err() error {
	err, _ := t.err.Load().(error)
	return err
}

// Wait blocks until all started work has finished, then returns the
// first reported error.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
