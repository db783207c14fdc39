package scanconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/pkg/model"
)

// ChannelGroups is the number of fixed-size channel groups per frequency slice.
const ChannelGroups = 20

// ChannelsPerGroup is the number of fine channels in one group.
const ChannelsPerGroup = 744

// MaxFSPID bounds the valid FSP id range.
const MaxFSPID = 27

// FSPBindings exposes the current function-mode binding of each FSP.
type FSPBindings interface {
	// Binding returns the bound mode and the subarrays the FSP serves.
	// An unbound FSP reports FunctionModeUnbound and an empty list.
	Binding(fspID int) (model.FunctionMode, []int)
}

// VCCHealth exposes the last-known liveness of each assigned receptor's VCC.
type VCCHealth interface {
	VCCLiveness(receptor int) (model.LivenessState, bool)
}

// Validator checks scan-configuration documents. Checks run in a fixed
// order and stop at the first hard failure; the result is a single
// aggregated error carrying the first offending reason.
type Validator struct {
	gw       gateway.Gateway
	bindings FSPBindings
	health   VCCHealth
	logger   *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(gw gateway.Gateway, bindings FSPBindings, health VCCHealth, logger *slog.Logger) *Validator {
	return &Validator{
		gw:       gw,
		bindings: bindings,
		health:   health,
		logger:   logger.With("component", "validator"),
	}
}

// Validate parses raw, runs all checks, and returns the normalized document
// with defaults filled in. No partial configuration is ever applied: on any
// failure the document is discarded wholesale.
func (v *Validator) Validate(raw []byte, subarrayID int, receptors []int) (*model.ScanConfiguration, *model.APIError) {
	doc, ferr := v.parse(raw)
	if ferr == nil {
		ferr = v.checkLiveness(receptors)
	}
	if ferr == nil {
		ferr = v.checkBand(doc)
	}
	if ferr == nil {
		ferr = v.checkOffsets(doc)
	}
	if ferr == nil {
		ferr = v.checkSubscriptionPoints(doc)
	}
	if ferr == nil {
		ferr = v.checkSearchWindows(doc)
	}
	if ferr == nil {
		for i := range doc.FSP {
			if ferr = v.checkEntry(doc, &doc.FSP[i], receptors); ferr != nil {
				break
			}
		}
	}
	if ferr != nil {
		v.logger.Warn("configuration rejected", "reason", ferr.Message, "field", ferr.Field)
		return nil, model.NewValidationError(
			fmt.Sprintf("aborting configuration: %s", ferr.Message), *ferr)
	}

	doc.SubarrayID = subarrayID
	return doc, nil
}

// parse covers the structural check: the document must decode and carry a
// common section plus a non-empty per-node configuration list.
func (v *Validator) parse(raw []byte) (*model.ScanConfiguration, *model.FieldError) {
	var doc model.ScanConfiguration
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &model.FieldError{Message: fmt.Sprintf("malformed document: %v", err)}
	}
	if doc.ConfigID == "" {
		return nil, &model.FieldError{Field: "config_id", Message: "config_id is required"}
	}
	if doc.FrequencyBand == "" {
		return nil, &model.FieldError{Field: "frequency_band", Message: "frequency_band is required"}
	}
	if len(doc.FSP) == 0 {
		return nil, &model.FieldError{Field: "fsp", Message: "at least one fsp entry is required"}
	}
	return &doc, nil
}

func (v *Validator) checkLiveness(receptors []int) *model.FieldError {
	for _, r := range receptors {
		st, ok := v.health.VCCLiveness(r)
		if !ok || st != model.LivenessOn {
			return &model.FieldError{
				Field:   fmt.Sprintf("receptor %d", r),
				Message: fmt.Sprintf("backing node not ON (state %s)", st),
			}
		}
	}
	return nil
}

func (v *Validator) checkBand(doc *model.ScanConfiguration) *model.FieldError {
	if !IsValidBand(doc.FrequencyBand) {
		return &model.FieldError{
			Field:   "frequency_band",
			Message: fmt.Sprintf("unsupported frequency band %q", doc.FrequencyBand),
		}
	}

	if !IsBand5(doc.FrequencyBand) {
		if isNonZeroTuning(doc.Band5Tuning) {
			return &model.FieldError{
				Field:   "band_5_tuning",
				Message: fmt.Sprintf("band_5_tuning not applicable to band %s", doc.FrequencyBand),
			}
		}
		doc.Band5Tuning = nil
		return nil
	}

	// Band-5 variant: tuning absent defaults to (0,0); present tuning must
	// sit inside the variant's physical bounds.
	if len(doc.Band5Tuning) == 0 {
		doc.Band5Tuning = []float64{0, 0}
		return nil
	}
	if len(doc.Band5Tuning) != 2 {
		return &model.FieldError{Field: "band_5_tuning", Message: "expected two stream tunings"}
	}
	if isNonZeroTuning(doc.Band5Tuning) {
		bounds := band5TuningBounds[doc.FrequencyBand]
		for i, f := range doc.Band5Tuning {
			if f < bounds[0] || f > bounds[1] {
				return &model.FieldError{
					Field: "band_5_tuning",
					Message: fmt.Sprintf("stream %d tuning %.3e Hz outside [%.3e, %.3e]",
						i+1, f, bounds[0], bounds[1]),
				}
			}
		}
	}
	return nil
}

func (v *Validator) checkOffsets(doc *model.ScanConfiguration) *model.FieldError {
	if len(doc.FrequencyBandOffsets) > 2 {
		return &model.FieldError{Field: "frequency_band_offsets", Message: "at most two stream offsets"}
	}
	for i, off := range doc.FrequencyBandOffsets {
		if off > FrequencySliceBW/2 || off < -FrequencySliceBW/2 {
			return &model.FieldError{
				Field: "frequency_band_offsets",
				Message: fmt.Sprintf("stream %d offset %.3e Hz exceeds half a frequency slice (%.3e Hz)",
					i+1, off, FrequencySliceBW/2),
			}
		}
	}
	for len(doc.FrequencyBandOffsets) < 2 {
		doc.FrequencyBandOffsets = append(doc.FrequencyBandOffsets, 0)
	}
	return nil
}

func (v *Validator) checkSubscriptionPoints(doc *model.ScanConfiguration) *model.FieldError {
	points := []struct{ field, ref string }{
		{"delay_model_subscription_point", doc.DelayModelSubscriptionPoint},
		{"jones_matrix_subscription_point", doc.JonesMatrixSubscriptionPoint},
		{"beam_weights_subscription_point", doc.BeamWeightsSubscriptionPoint},
	}
	for _, p := range points {
		if p.ref == "" {
			continue
		}
		if err := v.gw.Probe(p.ref); err != nil {
			return &model.FieldError{Field: p.field, Message: err.Error()}
		}
	}
	return nil
}

func (v *Validator) checkSearchWindows(doc *model.ScanConfiguration) *model.FieldError {
	if len(doc.SearchWindows) > model.MaxSearchWindows {
		return &model.FieldError{
			Field:   "search_window",
			Message: fmt.Sprintf("%d search windows exceeds limit %d", len(doc.SearchWindows), model.MaxSearchWindows),
		}
	}
	return nil
}

func (v *Validator) checkEntry(doc *model.ScanConfiguration, fsp *model.FSPConfiguration, receptors []int) *model.FieldError {
	field := fmt.Sprintf("fsp %d", fsp.FSPID)

	if fsp.FSPID < 1 || fsp.FSPID > MaxFSPID {
		return &model.FieldError{Field: "fsp_id", Message: fmt.Sprintf("fsp id %d out of range 1..%d", fsp.FSPID, MaxFSPID)}
	}
	if !fsp.FunctionMode.IsValid() {
		return &model.FieldError{Field: field, Message: fmt.Sprintf("unknown function mode %q", fsp.FunctionMode)}
	}

	// An FSP may serve several subarrays, but only in one function mode at
	// a time: it must be unbound or already bound to the requested mode.
	mode, _ := v.bindings.Binding(fsp.FSPID)
	if mode != model.FunctionModeUnbound && mode != fsp.FunctionMode {
		return &model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("bound to function mode %s, requested %s", mode, fsp.FunctionMode),
		}
	}

	if ferr := v.checkEntryReceptors(fsp, field, receptors); ferr != nil {
		return ferr
	}

	if fsp.FrequencySliceID < 1 || fsp.FrequencySliceID > SliceCount(doc.FrequencyBand) {
		return &model.FieldError{
			Field: field,
			Message: fmt.Sprintf("frequency slice %d out of range 1..%d for band %s",
				fsp.FrequencySliceID, SliceCount(doc.FrequencyBand), doc.FrequencyBand),
		}
	}

	if fsp.ZoomFactor < 0 || fsp.ZoomFactor > model.MaxZoomFactor {
		return &model.FieldError{Field: field, Message: fmt.Sprintf("zoom factor %d out of range 0..%d", fsp.ZoomFactor, model.MaxZoomFactor)}
	}
	// The physical span is only needed to place a zoom window; a band-5
	// document carrying the default (0,0) tuning has no resolvable span and
	// is still valid with zoom disabled.
	if fsp.ZoomFactor > 0 {
		sliceLow, sliceHigh, err := SliceSpan(doc.FrequencyBand, doc.Band5Tuning, fsp.FrequencySliceID)
		if err != nil {
			return &model.FieldError{Field: field, Message: err.Error()}
		}
		if fsp.ZoomWindowTuning < sliceLow || fsp.ZoomWindowTuning > sliceHigh {
			return &model.FieldError{
				Field: field,
				Message: fmt.Sprintf("zoom window tuning %.4e Hz outside frequency slice %d span [%.4e, %.4e]",
					fsp.ZoomWindowTuning, fsp.FrequencySliceID, sliceLow, sliceHigh),
			}
		}
	}

	if fsp.IntegrationTime <= 0 ||
		fsp.IntegrationTime%model.MinIntegrationTime != 0 ||
		fsp.IntegrationTime > model.MinIntegrationTime*model.MaxIntegrationFactor {
		return &model.FieldError{
			Field: field,
			Message: fmt.Sprintf("integration time %d ms must be a 1x-%dx multiple of %d ms",
				fsp.IntegrationTime, model.MaxIntegrationFactor, model.MinIntegrationTime),
		}
	}

	if fsp.ChannelOffset < 0 {
		return &model.FieldError{Field: field, Message: fmt.Sprintf("channel offset %d is negative", fsp.ChannelOffset)}
	}

	for _, pair := range fsp.OutputLinkMap {
		if pair[0] < 0 || pair[1] < 1 {
			return &model.FieldError{
				Field:   field,
				Message: fmt.Sprintf("malformed output link map pair [%d, %d]", pair[0], pair[1]),
			}
		}
	}

	if len(fsp.ChannelAveragingMap) > ChannelGroups {
		return &model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("channel averaging map has %d groups, limit %d", len(fsp.ChannelAveragingMap), ChannelGroups),
		}
	}
	for _, pair := range fsp.ChannelAveragingMap {
		if !model.IsValidAveragingFactor(pair[1]) {
			return &model.FieldError{
				Field:   field,
				Message: fmt.Sprintf("averaging factor %d not in %v", pair[1], model.ValidAveragingFactors),
			}
		}
	}
	normalizeAveragingMap(fsp)

	return v.checkBeams(fsp, field, receptors)
}

func (v *Validator) checkEntryReceptors(fsp *model.FSPConfiguration, field string, receptors []int) *model.FieldError {
	if len(fsp.Receptors) == 0 {
		fsp.Receptors = append([]int(nil), receptors...)
		return nil
	}
	for _, r := range fsp.Receptors {
		if !containsInt(receptors, r) {
			return &model.FieldError{
				Field:   field,
				Message: fmt.Sprintf("receptor %d not assigned to this subarray", r),
			}
		}
	}
	return nil
}

func (v *Validator) checkBeams(fsp *model.FSPConfiguration, field string, receptors []int) *model.FieldError {
	if len(fsp.SearchBeams) > model.MaxSearchBeams {
		return &model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("%d search beams exceeds limit %d", len(fsp.SearchBeams), model.MaxSearchBeams),
		}
	}
	if len(fsp.TimingBeams) > model.MaxTimingBeams {
		return &model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("%d timing beams exceeds limit %d", len(fsp.TimingBeams), model.MaxTimingBeams),
		}
	}

	for i := range fsp.SearchBeams {
		b := &fsp.SearchBeams[i]
		name := fmt.Sprintf("%s search beam %d", field, b.ID)
		if ferr := checkBeam(name, &b.Receptors, b.DestinationAddress, fsp.Receptors, receptors); ferr != nil {
			return ferr
		}
	}
	for i := range fsp.TimingBeams {
		b := &fsp.TimingBeams[i]
		name := fmt.Sprintf("%s timing beam %d", field, b.ID)
		if ferr := checkBeam(name, &b.Receptors, b.DestinationAddress, fsp.Receptors, receptors); ferr != nil {
			return ferr
		}
	}
	return nil
}

func checkBeam(name string, beamReceptors *[]int, dest string, entryReceptors, assigned []int) *model.FieldError {
	if len(*beamReceptors) == 0 {
		*beamReceptors = append([]int(nil), entryReceptors...)
	}
	for _, r := range *beamReceptors {
		if !containsInt(assigned, r) {
			return &model.FieldError{
				Field:   name,
				Message: fmt.Sprintf("receptor %d not assigned to this subarray", r),
			}
		}
	}
	addr, err := netip.ParseAddr(dest)
	if err != nil || !addr.Is4() {
		return &model.FieldError{
			Field:   name,
			Message: fmt.Sprintf("destination address %q is not an IPv4 dotted quad", dest),
		}
	}
	return nil
}

// normalizeAveragingMap extends the map to the full group count; groups not
// named by the caller default to factor 0 (dropped).
func normalizeAveragingMap(fsp *model.FSPConfiguration) {
	have := len(fsp.ChannelAveragingMap)
	for g := have; g < ChannelGroups; g++ {
		fsp.ChannelAveragingMap = append(fsp.ChannelAveragingMap, [2]int{g*ChannelsPerGroup + 1, 0})
	}
}

func isNonZeroTuning(tuning []float64) bool {
	for _, f := range tuning {
		if f != 0 {
			return true
		}
	}
	return false
}

func containsInt(s []int, x int) bool {
	for _, v := range s {
		if v == x {
			return true
		}
	}
	return false
}
