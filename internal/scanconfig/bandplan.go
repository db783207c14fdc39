// Package scanconfig validates and normalizes scan-configuration documents
// against the physical band plan and the current fleet state.
package scanconfig

import "fmt"

// FrequencySliceBW is the bandwidth of one frequency slice in Hz.
const FrequencySliceBW = 200e6

// Band5StreamBW is the bandwidth of one band-5 sub-stream in Hz.
const Band5StreamBW = 2.5e9

// band5StreamSlices is the number of slices carried by one band-5 sub-stream.
const band5StreamSlices = 13

type bandInfo struct {
	low, high float64 // band edges in Hz
	slices    int     // frequency slices across the band
}

var bands = map[string]bandInfo{
	"1":  {low: 350e6, high: 1050e6, slices: 4},
	"2":  {low: 950e6, high: 1760e6, slices: 5},
	"3":  {low: 1650e6, high: 3050e6, slices: 7},
	"4":  {low: 2800e6, high: 5180e6, slices: 12},
	"5a": {low: 4600e6, high: 8500e6, slices: 2 * band5StreamSlices},
	"5b": {low: 8300e6, high: 15400e6, slices: 2 * band5StreamSlices},
}

// band5TuningBounds maps a band-5 variant to the legal sub-stream center
// frequency range in Hz.
var band5TuningBounds = map[string][2]float64{
	"5a": {5.85e9, 7.25e9},
	"5b": {9.55e9, 14.05e9},
}

// IsValidBand reports whether name is one of the six supported bands.
func IsValidBand(name string) bool {
	_, ok := bands[name]
	return ok
}

// IsBand5 reports whether name is a band-5 variant.
func IsBand5(name string) bool {
	return name == "5a" || name == "5b"
}

// SliceCount returns the number of frequency slices in a band.
func SliceCount(band string) int {
	return bands[band].slices
}

// SliceSpan computes the physical frequency span [low, high] in Hz of one
// frequency slice. For band-5 variants the slice belongs to one of the two
// sub-streams and the span is computed from that stream's tuning.
func SliceSpan(band string, tuning []float64, sliceID int) (float64, float64, error) {
	info, ok := bands[band]
	if !ok {
		return 0, 0, fmt.Errorf("unknown band %q", band)
	}
	if sliceID < 1 || sliceID > info.slices {
		return 0, 0, fmt.Errorf("frequency slice %d out of range 1..%d for band %s", sliceID, info.slices, band)
	}

	if !IsBand5(band) {
		low := info.low + float64(sliceID-1)*FrequencySliceBW
		high := low + FrequencySliceBW
		if high > info.high {
			high = info.high
		}
		return low, high, nil
	}

	stream := 0
	k := sliceID
	if sliceID > band5StreamSlices {
		stream = 1
		k = sliceID - band5StreamSlices
	}
	if len(tuning) < 2 || tuning[stream] == 0 {
		return 0, 0, fmt.Errorf("band %s slice %d requires stream %d tuning", band, sliceID, stream+1)
	}
	streamLow := tuning[stream] - Band5StreamBW/2
	low := streamLow + float64(k-1)*FrequencySliceBW
	return low, low + FrequencySliceBW, nil
}
