// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// suspension point in swarm: executor start delays, drift compensation
// sleeps, and the reconciler poll interval.
//
// Production code receives [Real]. Tests receive a [FakeClock] whose
// time moves only when the test calls [FakeClock.Advance], which makes
// timing properties (an executor's total lifetime, a batch's completion
// order) checkable without wall-clock sleeps.
//
// # Synchronizing with a FakeClock
//
// A goroutine that calls Sleep, After, or NewTicker registers a pending
// waiter. Tests call [FakeClock.WaitForTimers] before advancing so the
// waiter is guaranteed to exist when time moves:
//
//	fake := clock.Fake(epoch)
//	go executor.Run(ctx, request)
//	fake.WaitForTimers(1)
//	fake.Advance(40 * time.Millisecond)
package clock
