// Package irt implements the three-parameter logistic item response model.
package irt

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams indicates item parameters that cannot be used for estimation.
var ErrInvalidParams = errors.New("invalid item parameters")

// Params holds the IRT parameters of a single item.
type Params struct {
	// A is the discrimination. Must be positive.
	A float64 `json:"a"`
	// B is the difficulty on the logit scale.
	B float64 `json:"b"`
	// C is the pseudo-guessing lower asymptote in [0, 1). Zero gives the 2PL model.
	C float64 `json:"c"`
}

// Validate reports whether the parameters are usable.
func (p Params) Validate() error {
	switch {
	case !finite(p.A) || !finite(p.B) || !finite(p.C):
		return fmt.Errorf("%w: non-finite value (a=%v b=%v c=%v)", ErrInvalidParams, p.A, p.B, p.C)
	case p.A <= 0:
		return fmt.Errorf("%w: discrimination must be > 0, got %v", ErrInvalidParams, p.A)
	case p.C < 0 || p.C >= 1:
		return fmt.Errorf("%w: guessing must be in [0,1), got %v", ErrInvalidParams, p.C)
	}
	return nil
}

// Prob returns the probability of a correct response at ability theta.
func Prob(theta float64, p Params) float64 {
	return p.C + (1-p.C)*logistic(p.A*(theta-p.B))
}

// Information returns the Fisher information the item provides at theta.
func Information(theta float64, p Params) float64 {
	prob := clampProb(Prob(theta, p))
	q := 1 - prob
	if p.C == 0 {
		return p.A * p.A * prob * q
	}
	r := (prob - p.C) / (1 - p.C)
	return p.A * p.A * (q / prob) * r * r
}

// TotalInformation sums the information of all items at theta.
func TotalInformation(theta float64, items []Params) float64 {
	var total float64
	for _, p := range items {
		total += Information(theta, p)
	}
	return total
}

// LogLikelihood returns the log-likelihood of a (possibly fractional) score
// on the item at theta. A score of 1 is a correct response, 0 incorrect.
func LogLikelihood(theta float64, p Params, score float64) float64 {
	prob := clampProb(Prob(theta, p))
	return score*math.Log(prob) + (1-score)*math.Log(1-prob)
}

// Derivatives returns the first and second derivatives of the item
// log-likelihood with respect to theta.
func Derivatives(theta float64, p Params, score float64) (d1, d2 float64) {
	prob := clampProb(Prob(theta, p))
	q := 1 - prob
	// w = P*(θ)/P(θ), where P* is the 2PL part of the 3PL curve.
	w := (prob - p.C) / ((1 - p.C) * prob)
	d1 = p.A * w * (score - prob)
	// Expected second derivative (Fisher scoring); stays negative so
	// Newton steps always move uphill.
	d2 = -p.A * p.A * w * w * prob * q
	return d1, d2
}

func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

const probEpsilon = 1e-12

func clampProb(p float64) float64 {
	return math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
