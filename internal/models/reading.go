package models

import "time"

// ReadingSource describes where a depth reading came from.
type ReadingSource string

const (
	SourceOfficial     ReadingSource = "official"
	SourceCrowdsourced ReadingSource = "crowdsourced"
	SourcePredicted    ReadingSource = "predicted"
)

// DepthReading is a raw sounding as reported by a vessel or survey.
type DepthReading struct {
	ID         string        `json:"id"`
	Location   Location      `json:"location"`
	Timestamp  time.Time     `json:"timestamp"`
	Depth      float64       `json:"depth"` // metres below the transducer
	Source     ReadingSource `json:"source"`
	Confidence float64       `json:"confidence"`
	VesselID   string        `json:"vessel_id,omitempty"`
}

// CorrectionMethod records how the tide height was obtained.
type CorrectionMethod string

const (
	MethodObserved     CorrectionMethod = "observed"
	MethodInterpolated CorrectionMethod = "interpolated"
	MethodPredicted    CorrectionMethod = "predicted"
	MethodEstimated    CorrectionMethod = "estimated"
)

// TideCorrection is the tide component of a depth correction.
type TideCorrection struct {
	Height          float64          `json:"height"`
	Method          CorrectionMethod `json:"method"`
	Confidence      float64          `json:"confidence"`
	StationID       string           `json:"station_id,omitempty"`
	StationDistance float64          `json:"station_distance_m"`
}

// EnvironmentalCorrection is the breakdown of non-tidal corrections in metres.
type EnvironmentalCorrection struct {
	Wind        float64 `json:"wind"`
	Current     float64 `json:"current"`
	Barometric  float64 `json:"barometric"`
	Temperature float64 `json:"temperature"`
	Salinity    float64 `json:"salinity"`
	Total       float64 `json:"total"`
	Confidence  float64 `json:"confidence"`
}

// QualityFactors holds the five weighted sub-scores, each in [0,1].
type QualityFactors struct {
	Age           float64 `json:"age"`
	Distance      float64 `json:"distance"`
	Environmental float64 `json:"environmental"`
	Source        float64 `json:"source"`
	Instrument    float64 `json:"instrument"`
}

// QualityScore is the overall reading quality in [0,1].
type QualityScore struct {
	Score    float64        `json:"score"`
	Factors  QualityFactors `json:"factors"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Reliability classifies a processed reading for display.
type Reliability string

const (
	ReliabilityHigh       Reliability = "high"
	ReliabilityMedium     Reliability = "medium"
	ReliabilityLow        Reliability = "low"
	ReliabilityUnreliable Reliability = "unreliable"
)

// ProcessedDepthReading is the corrected output for a DepthReading. It is
// derived data: recompute it instead of modifying it.
type ProcessedDepthReading struct {
	Reading        DepthReading            `json:"reading"`
	Tide           TideCorrection          `json:"tide"`
	Environmental  EnvironmentalCorrection `json:"environmental"`
	CorrectedDepth float64                 `json:"corrected_depth"`
	Quality        QualityScore            `json:"quality"`
	SafetyMargin   float64                 `json:"safety_margin"`
	Reliability    Reliability             `json:"reliability"`
	ProcessedAt    time.Time               `json:"processed_at"`
}
