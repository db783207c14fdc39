package model

// ScanConfiguration is the validated, normalized scan-configuration document.
// A configuration is superseded wholesale by the next ConfigureScan and is
// never partially merged with a prior one.
type ScanConfiguration struct {
	ConfigID      string `json:"config_id"`
	SubarrayID    int    `json:"subarray_id"`
	FrequencyBand string `json:"frequency_band"`

	// Band5Tuning holds the two sub-stream center frequencies in Hz.
	// Defaulted to (0,0) for non band-5 configurations.
	Band5Tuning []float64 `json:"band_5_tuning,omitempty"`

	// FrequencyBandOffsets holds the per-stream frequency offsets in Hz.
	// Absent offsets default to 0; magnitude is bounded by half a
	// frequency-slice bandwidth.
	FrequencyBandOffsets []float64 `json:"frequency_band_offsets,omitempty"`

	// Subscription points for externally published model documents. Each,
	// when present, must answer a liveness probe during validation.
	DelayModelSubscriptionPoint  string `json:"delay_model_subscription_point,omitempty"`
	JonesMatrixSubscriptionPoint string `json:"jones_matrix_subscription_point,omitempty"`
	BeamWeightsSubscriptionPoint string `json:"beam_weights_subscription_point,omitempty"`

	SearchWindows []SearchWindow `json:"search_window,omitempty"`

	FSP []FSPConfiguration `json:"fsp"`
}

// FSPConfiguration is one per-node entry of a scan configuration.
type FSPConfiguration struct {
	FSPID        int          `json:"fsp_id"`
	FunctionMode FunctionMode `json:"function_mode"`

	// Receptors defaults to the subarray's full assigned set when omitted.
	Receptors []int `json:"receptors,omitempty"`

	FrequencySliceID int `json:"frequency_slice_id"`

	// ZoomFactor 0 disables zoom; 1..6 select a bandwidth-reduction level.
	ZoomFactor int `json:"zoom_factor"`

	// ZoomWindowTuning is the zoom window center in Hz. Required to fall
	// inside the selected frequency slice's span when ZoomFactor > 0.
	ZoomWindowTuning float64 `json:"zoom_window_tuning,omitempty"`

	// IntegrationTime in ms; a 1x-10x multiple of MinIntegrationTime.
	IntegrationTime int `json:"integration_time"`

	ChannelOffset int `json:"channel_offset"`

	// OutputLinkMap pairs (first channel id, link id).
	OutputLinkMap [][2]int `json:"output_link_map,omitempty"`

	// ChannelAveragingMap pairs (first channel id of group, averaging
	// factor). Factors are restricted to ValidAveragingFactors.
	ChannelAveragingMap [][2]int `json:"channel_averaging_map,omitempty"`

	SearchBeams []SearchBeam `json:"search_beam,omitempty"`
	TimingBeams []TimingBeam `json:"timing_beam,omitempty"`
}

// SearchBeam configures one pulsar-search beam.
type SearchBeam struct {
	ID                 int    `json:"search_beam_id"`
	Receptors          []int  `json:"receptors,omitempty"`
	EnableOutput       bool   `json:"enable_output"`
	AveragingInterval  int    `json:"averaging_interval,omitempty"`
	DestinationAddress string `json:"destination_address"`
}

// TimingBeam configures one pulsar-timing beam.
type TimingBeam struct {
	ID                 int    `json:"timing_beam_id"`
	Receptors          []int  `json:"receptors,omitempty"`
	EnableOutput       bool   `json:"enable_output"`
	DestinationAddress string `json:"destination_address"`
}

// SearchWindow selects a window for transient searching.
type SearchWindow struct {
	ID             int     `json:"search_window_id"`
	TuningFreq     float64 `json:"search_window_tuning,omitempty"`
	EnableAllVCC   bool    `json:"enable_all_vcc,omitempty"`
	SearchWindowBW float64 `json:"search_window_bw,omitempty"`
}

// Collection bounds enforced during validation.
const (
	MaxSearchBeams   = 192
	MaxTimingBeams   = 16
	MaxSearchWindows = 2
)

// MinIntegrationTime is the minimum integration unit in ms; configured
// integration times are 1x-10x integer multiples of it.
const MinIntegrationTime = 140

// MaxIntegrationFactor bounds the integration-time multiple.
const MaxIntegrationFactor = 10

// MaxZoomFactor bounds the zoom/bandwidth-reduction factor.
const MaxZoomFactor = 6

// ValidAveragingFactors enumerates the legal channel-averaging factors.
// Factor 0 drops the channel group entirely.
var ValidAveragingFactors = []int{0, 1, 2, 3, 4, 6, 8}

// IsValidAveragingFactor reports whether f is a legal averaging factor.
func IsValidAveragingFactor(f int) bool {
	for _, v := range ValidAveragingFactors {
		if v == f {
			return true
		}
	}
	return false
}
