// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotAt(t time.Time, counters map[CounterID]CounterValue) *Snapshot {
	return &Snapshot{Taken: t, Counters: counters}
}

func TestComputeDeltas(t *testing.T) {
	base := time.Now()
	rxFIFO := CounterID{Domain: InterfaceDomain("eth0"), Name: CtrRxFIFO}

	tests := []struct {
		name     string
		prev     CounterValue
		cur      CounterValue
		interval time.Duration
		wantRaw  uint64
		wantRate float64
		wantBad  bool
	}{
		{
			name:     "monotonic growth",
			prev:     CounterValue{Value: 100, Width: 64},
			cur:      CounterValue{Value: 140, Width: 64},
			interval: 2 * time.Second,
			wantRaw:  40,
			wantRate: 20,
		},
		{
			name:     "no change",
			prev:     CounterValue{Value: 100, Width: 64},
			cur:      CounterValue{Value: 100, Width: 64},
			interval: time.Second,
			wantRaw:  0,
			wantRate: 0,
		},
		{
			name:     "32-bit wraparound",
			prev:     CounterValue{Value: 4294967290, Width: 32},
			cur:      CounterValue{Value: 5, Width: 32},
			interval: time.Second,
			wantRaw:  11,
			wantRate: 11,
		},
		{
			name:     "64-bit wraparound",
			prev:     CounterValue{Value: ^uint64(0) - 4, Width: 64},
			cur:      CounterValue{Value: 5, Width: 64},
			interval: time.Second,
			wantRaw:  10,
			wantRate: 10,
		},
		{
			name:     "negative delta with unknown width",
			prev:     CounterValue{Value: 500, Width: 0},
			cur:      CounterValue{Value: 100, Width: 0},
			interval: time.Second,
			wantBad:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := snapshotAt(base, map[CounterID]CounterValue{rxFIFO: tt.prev})
			cur := snapshotAt(base.Add(tt.interval), map[CounterID]CounterValue{rxFIFO: tt.cur})

			deltas, err := ComputeDeltas(prev, cur)
			require.NoError(t, err)
			require.Contains(t, deltas, rxFIFO)

			d := deltas[rxFIFO]
			assert.Equal(t, tt.wantBad, d.Unreliable)
			if !tt.wantBad {
				assert.Equal(t, tt.wantRaw, d.Raw)
				assert.InDelta(t, tt.wantRate, d.Rate, 0.001)
			}
			assert.Equal(t, tt.interval, d.Interval)
		})
	}
}

func TestComputeDeltasFirstObservation(t *testing.T) {
	base := time.Now()
	known := CounterID{Domain: DomainTCP, Name: "RetransSegs"}
	fresh := CounterID{Domain: DomainTCP, Name: "OutSegs"}

	prev := snapshotAt(base, map[CounterID]CounterValue{
		known: {Value: 10, Width: 64},
	})
	cur := snapshotAt(base.Add(time.Second), map[CounterID]CounterValue{
		known: {Value: 15, Width: 64},
		fresh: {Value: 999, Width: 64},
	})

	deltas, err := ComputeDeltas(prev, cur)
	require.NoError(t, err)
	assert.Contains(t, deltas, known)
	assert.NotContains(t, deltas, fresh, "a counter seen for the first time must produce no delta")
}

func TestComputeDeltasInvalidInterval(t *testing.T) {
	base := time.Now()
	id := CounterID{Domain: DomainUDP, Name: "InErrors"}
	counters := map[CounterID]CounterValue{id: {Value: 1, Width: 64}}

	for _, offset := range []time.Duration{0, -time.Second} {
		prev := snapshotAt(base, counters)
		cur := snapshotAt(base.Add(offset), counters)

		deltas, err := ComputeDeltas(prev, cur)
		require.ErrorIs(t, err, ErrInvalidInterval)
		assert.Nil(t, deltas, "a dropped cycle must not surface zero-filled deltas")
	}
}
