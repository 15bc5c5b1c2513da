// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

// ComputeDeltas derives per-counter deltas and time-normalized rates
// between two snapshots of the same scope.
//
// Counters present only in current are first observations and produce
// no delta; that is the expected startup condition, not an error. A raw
// difference below zero is reinterpreted as a wraparound when the
// counter declares a 32-bit width (64-bit counters wrap naturally in
// uint64 arithmetic); with no declared width the delta is kept but
// marked unreliable, since a wrap cannot be told apart from a reset.
//
// Returns ErrInvalidInterval when current is not strictly after
// previous; such cycles are dropped, never zero-filled.
func ComputeDeltas(previous, current *Snapshot) (DeltaSet, error) {
	interval := current.Taken.Sub(previous.Taken)
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	seconds := interval.Seconds()

	deltas := make(DeltaSet, len(current.Counters))
	for id, cur := range current.Counters {
		prev, ok := previous.Counters[id]
		if !ok {
			continue
		}

		d := Delta{Counter: id, Interval: interval}
		switch {
		case cur.Value >= prev.Value:
			d.Raw = cur.Value - prev.Value
		case cur.Width == 32:
			d.Raw = uint64(uint32(cur.Value) - uint32(prev.Value))
		case cur.Width == 64:
			// Unsigned subtraction wraps modulo 2^64 on its own.
			d.Raw = cur.Value - prev.Value
		default:
			d.Unreliable = true
		}

		if !d.Unreliable {
			d.Rate = float64(d.Raw) / seconds
		}
		deltas[id] = d
	}
	return deltas, nil
}
