//go:build hostsim

package main

import (
	"os"

	"github.com/google/pprof/profile"

	"nucleus/kernel/mem/heap"
	"nucleus/kernel/mem/pmm/buddy"
)

// writeStatsProfile renders the lazy-buddy allocator's and kernel heap's
// statistics counters (spec.md §4.B/§4.E) as a pprof sample profile, one
// sample per buddy order whose free list is non-empty plus one for heap
// usage, so they can be inspected
// with the standard pprof tooling.
func writeStatsProfile(path string) error {
	buddyStats := buddy.GetStats()
	heapStats, _ := heap.GetStats()

	framesFn := &profile.Function{ID: 1, Name: "buddy_frames"}
	heapFn := &profile.Function{ID: 2, Name: "heap_usage"}

	framesLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: framesFn}}}
	heapLoc := &profile.Location{ID: 2, Line: []profile.Line{{Function: heapFn}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "frames", Unit: "count"},
		},
		Function: []*profile.Function{framesFn, heapFn},
		Location: []*profile.Location{framesLoc, heapLoc},
	}

	for order, count := range buddyStats.OrdersInUse {
		if count == 0 {
			continue
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{framesLoc},
			Value:    []int64{int64(count)},
			Label:    map[string][]string{"order": {itoa(order)}},
		})
	}

	p.Sample = append(p.Sample, &profile.Sample{
		Location: []*profile.Location{heapLoc},
		Value:    []int64{int64(heapStats.Usage)},
		Label:    map[string][]string{"metric": {"usage_bytes"}},
	})

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return p.Write(f)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
