// Package routing decides, per segment, whether the edge transcription
// stands alone or a remote transcription should be requested as well.
package routing

import "fmt"

// Route is the outcome of a routing decision.
type Route int

const (
	RouteEdgeOnly Route = iota
	RouteToCloud
)

func (r Route) String() string {
	switch r {
	case RouteEdgeOnly:
		return "EDGE_ONLY"
	case RouteToCloud:
		return "ROUTED_TO_CLOUD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(r))
	}
}

// Reason explains a routing decision. Recorded for every segment, even
// when the route is EDGE_ONLY, to preserve explainability.
type Reason int

const (
	ReasonNominal Reason = iota
	ReasonOffline
	ReasonLowConfidence
	ReasonHighNoise
)

func (r Reason) String() string {
	switch r {
	case ReasonNominal:
		return "NOMINAL"
	case ReasonOffline:
		return "OFFLINE"
	case ReasonLowConfidence:
		return "LOW_CONFIDENCE"
	case ReasonHighNoise:
		return "HIGH_NOISE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(r))
	}
}

// Decision is the per-segment routing record. Exactly one exists per
// audio segment.
type Decision struct {
	SequenceNo uint64
	Route      Route
	Reason     Reason
	Confidence float64
	NoiseScore float64
}

// Thresholds hold the externally configurable decision boundaries.
type Thresholds struct {
	Confidence float64
	Noise      float64
}

// Decide evaluates the routing rules in fixed order, first match wins:
//
//  1. network unavailable            -> EDGE_ONLY, OFFLINE
//  2. confidence < threshold         -> ROUTED_TO_CLOUD, LOW_CONFIDENCE
//  3. noise score > threshold        -> ROUTED_TO_CLOUD, HIGH_NOISE
//  4. otherwise                      -> EDGE_ONLY, NOMINAL
//
// Comparison directions matter: confidence exactly at the threshold and
// noise exactly at the threshold both stay edge-eligible.
func Decide(sequenceNo uint64, confidence, noiseScore float64, networkAvailable bool, th Thresholds) Decision {
	d := Decision{
		SequenceNo: sequenceNo,
		Confidence: confidence,
		NoiseScore: noiseScore,
	}
	switch {
	case !networkAvailable:
		d.Route = RouteEdgeOnly
		d.Reason = ReasonOffline
	case confidence < th.Confidence:
		d.Route = RouteToCloud
		d.Reason = ReasonLowConfidence
	case noiseScore > th.Noise:
		d.Route = RouteToCloud
		d.Reason = ReasonHighNoise
	default:
		d.Route = RouteEdgeOnly
		d.Reason = ReasonNominal
	}
	return d
}
