package predict

import (
	"fmt"
	"math"
)

// DwellModel predicts dwell seconds at a stop from the headway of the arriving vehicle.
// implementations are immutable values, Observe returns the updated model
type DwellModel interface {
	Observe(dwellSeconds float64, headwaySeconds float64) DwellModel
	Predict(headwaySeconds float64) (float64, bool)
	Samples() int
}

const (
	RunningAverageModel = "average"
	RLSModel            = "rls"
)

// NewDwellModel returns an empty model of kind, one of RunningAverageModel or RLSModel
func NewDwellModel(kind string, lambda float64) (DwellModel, error) {
	switch kind {
	case RunningAverageModel:
		return RunningAverage{}, nil
	case RLSModel:
		return NewRLS(lambda), nil
	}
	return nil, fmt.Errorf("unknown dwell model %q", kind)
}

// RunningAverage ignores headway and predicts the mean of all dwell samples
type RunningAverage struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

func (r RunningAverage) Observe(dwellSeconds float64, _ float64) DwellModel {
	return RunningAverage{
		Count:   r.Count + 1,
		Average: r.Average + (dwellSeconds-r.Average)/float64(r.Count+1),
	}
}

func (r RunningAverage) Predict(_ float64) (float64, bool) {
	return r.Average, r.Count > 0
}

func (r RunningAverage) Samples() int {
	return r.Count
}

// rlsInitialCovariance is the starting covariance of both coefficients, large values let the first samples dominate
const rlsInitialCovariance = 1000.0

// rlsMaxCovariance bounds covariance growth along directions the samples never excite, such as a constant headway
const rlsMaxCovariance = 1e6

// RLS is a recursive least squares fit of log10(dwell) against headway in minutes, forgetting old samples
// at the rate set by Lambda
type RLS struct {
	Lambda float64 `json:"lambda"`
	// Theta holds the intercept and headway coefficient
	Theta      [2]float64    `json:"theta"`
	Covariance [2][2]float64 `json:"-"`
	Count      int           `json:"count"`
}

// NewRLS builds an empty RLS model. lambda between 0 and 1, lower values forget faster
func NewRLS(lambda float64) RLS {
	if lambda <= 0 || lambda > 1 {
		lambda = 0.75
	}
	return RLS{
		Lambda:     lambda,
		Covariance: [2][2]float64{{rlsInitialCovariance, 0}, {0, rlsInitialCovariance}},
	}
}

func rlsInput(headwaySeconds float64) [2]float64 {
	return [2]float64{1, headwaySeconds / 60}
}

func (r RLS) Observe(dwellSeconds float64, headwaySeconds float64) DwellModel {
	if dwellSeconds <= 0 {
		return r
	}
	x := rlsInput(headwaySeconds)
	y := math.Log10(dwellSeconds)
	p := r.Covariance

	// px = P x
	px := [2]float64{p[0][0]*x[0] + p[0][1]*x[1], p[1][0]*x[0] + p[1][1]*x[1]}
	denominator := r.Lambda + x[0]*px[0] + x[1]*px[1]
	k := [2]float64{px[0] / denominator, px[1] / denominator}
	residual := y - (r.Theta[0]*x[0] + r.Theta[1]*x[1])

	next := RLS{Lambda: r.Lambda, Count: r.Count + 1}
	next.Theta = [2]float64{r.Theta[0] + k[0]*residual, r.Theta[1] + k[1]*residual}
	// xp = x' P
	xp := [2]float64{x[0]*p[0][0] + x[1]*p[1][0], x[0]*p[0][1] + x[1]*p[1][1]}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			next.Covariance[i][j] = (p[i][j] - k[i]*xp[j]) / r.Lambda
		}
	}
	if !finite(next.Theta[0]) || !finite(next.Theta[1]) {
		return r
	}
	if !boundedCovariance(next.Covariance) {
		next.Covariance = [2][2]float64{{rlsInitialCovariance, 0}, {0, rlsInitialCovariance}}
	}
	return next
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func boundedCovariance(p [2][2]float64) bool {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if !finite(p[i][j]) || math.Abs(p[i][j]) > rlsMaxCovariance {
				return false
			}
		}
	}
	return true
}

// Predict needs at least two samples before the headway coefficient means anything
func (r RLS) Predict(headwaySeconds float64) (float64, bool) {
	if r.Count < 2 {
		return 0, false
	}
	x := rlsInput(headwaySeconds)
	return math.Pow(10, r.Theta[0]*x[0]+r.Theta[1]*x[1]), true
}

func (r RLS) Samples() int {
	return r.Count
}
