// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package workpool

import (
	"sync"
	"testing"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

func TestWaitSucceedsWithNoErrors(t *testing.T) {
	w := NewWait(0)
	w.Increment()
	w.Increment()
	w.Decrement()
	w.Decrement()

	ok, errs := w.Wait()
	if !ok || len(errs) != 0 {
		t.Fatalf("got ok=%v errs=%v, want ok=true no errors", ok, errs)
	}
}

func TestWaitFailsWhenAnErrorIsPushed(t *testing.T) {
	w := NewWait(0)
	w.Increment()
	w.Increment()
	w.Decrement()
	w.PushError(ErrorRecord{Stream: 1, SequenceNumber: 7})

	ok, errs := w.Wait()
	if ok {
		t.Fatal("expected ok=false after a pushed error")
	}
	if len(errs) != 1 || errs[0].SequenceNumber != 7 {
		t.Fatalf("errs = %v, want one record for sqn 7", errs)
	}
}

func TestWaitRingIsBounded(t *testing.T) {
	w := NewWait(2)
	for i := 0; i < 5; i++ {
		w.Increment()
		w.PushError(ErrorRecord{Stream: 1, SequenceNumber: simtypes.SegmentSequenceNumber(i)})
	}

	_, errs := w.Wait()
	if len(errs) != 2 {
		t.Fatalf("got %d error records, want the ring capped at 2", len(errs))
	}
}

func TestWaitBlocksConcurrentWaitersUntilDrained(t *testing.T) {
	w := NewWait(0)
	w.Increment()

	done := make(chan bool, 1)
	go func() {
		ok, _ := w.Wait()
		done <- ok
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Decrement()
	}()
	wg.Wait()

	if ok := <-done; !ok {
		t.Fatal("expected wait to succeed once the single op decremented")
	}
}
