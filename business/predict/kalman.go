// Package predict produces dwell and travel time predictions by blending a live estimate with
// values observed on previous days, falling back to a simpler default prediction when data is missing
package predict

import (
	"errors"
	"fmt"
)

// ErrNoSamples is returned by Blend when there are no historical samples to blend with
var ErrNoSamples = errors.New("no historical samples")

// KalmanResult holds the outcome of blending a live estimate with historical samples
type KalmanResult struct {
	Average    float64 `json:"average"`
	Variance   float64 `json:"variance"`
	Gain       float64 `json:"gain"`
	Prediction float64 `json:"prediction"`
	// FilterError is kept as the previous filter error of the next prediction for the same key
	FilterError float64 `json:"filter_error"`
}

func (k KalmanResult) String() string {
	return fmt.Sprintf("prediction:%.2f average:%.2f variance:%.2f gain:%.3f filterError:%.2f",
		k.Prediction, k.Average, k.Variance, k.Gain, k.FilterError)
}

// Blend weighs live against the mean of samples using a gain derived from the variance of the samples and
// the filter's previous error. A filter without a previous error (cold start) fully trusts the samples
func Blend(live float64, samples []float64, previousFilterError float64) (KalmanResult, error) {
	if len(samples) == 0 {
		return KalmanResult{}, ErrNoSamples
	}
	average := 0.0
	for _, sample := range samples {
		average += sample
	}
	average /= float64(len(samples))

	variance := 0.0
	for _, sample := range samples {
		variance += (sample - average) * (sample - average)
	}
	variance /= float64(len(samples))

	gain := 1.0
	if previousFilterError > 0 {
		gain = (previousFilterError + variance) / (previousFilterError + 2*variance)
	}
	loopGain := 1 - gain
	return KalmanResult{
		Average:     average,
		Variance:    variance,
		Gain:        gain,
		Prediction:  loopGain*live + gain*average,
		FilterError: variance * gain,
	}, nil
}
