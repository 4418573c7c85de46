// Package risk estimates stochastic slack for preventive repair policies and
// scores re-allocation bids for distributed consensus repairs.
package risk

import (
	"math"
	"math/rand"
)

// LogNormal is a LogNormal distribution: if X ~ LogNormal(mu, sigma) then
// ln(X) ~ Normal(mu, sigma). Task delays and duration overruns are modeled
// with it because they are non-negative and right-skewed.
type LogNormal struct {
	Mu    float64 // Mean of ln(X)
	Sigma float64 // Std dev of ln(X)
}

// LogNormalFromMeanStd derives (mu, sigma) from the mean and std of X itself.
func LogNormalFromMeanStd(mean, std float64) LogNormal {
	if mean <= 0 || std < 0 {
		return LogNormal{}
	}
	variance := std * std
	sigma2 := math.Log(1 + variance/(mean*mean))
	sigma := math.Sqrt(sigma2)
	mu := math.Log(mean) - sigma2/2
	return LogNormal{Mu: mu, Sigma: sigma}
}

// Mean returns E[X].
func (d LogNormal) Mean() float64 {
	return math.Exp(d.Mu + d.Sigma*d.Sigma/2)
}

// Std returns the standard deviation of X.
func (d LogNormal) Std() float64 {
	sigma2 := d.Sigma * d.Sigma
	return math.Sqrt(math.Exp(2*d.Mu+sigma2) * (math.Exp(sigma2) - 1))
}

// CDF returns P(X <= x).
func (d LogNormal) CDF(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := (math.Log(x) - d.Mu) / d.Sigma
	return 0.5 * (1 + math.Erf(z/math.Sqrt(2)))
}

// Quantile returns x such that P(X <= x) = p.
func (d LogNormal) Quantile(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return math.Inf(1)
	}
	z := normalQuantile(p)
	return math.Exp(d.Mu + d.Sigma*z)
}

// Sample draws one value from the distribution.
func (d LogNormal) Sample(rng *rand.Rand) float64 {
	normal := rng.NormFloat64()*d.Sigma + d.Mu
	return math.Exp(normal)
}

// normalQuantile is the inverse standard normal CDF, via the Abramowitz and
// Stegun rational approximation.
func normalQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	if p == 0.5 {
		return 0
	}
	if p < 0.5 {
		return -rationalApprox(math.Sqrt(-2 * math.Log(p)))
	}
	return rationalApprox(math.Sqrt(-2 * math.Log(1-p)))
}

func rationalApprox(t float64) float64 {
	c := []float64{2.515517, 0.802853, 0.010328}
	d := []float64{1.432788, 0.189269, 0.001308}
	return t - (c[0]+c[1]*t+c[2]*t*t)/(1+d[0]*t+d[1]*t*t+d[2]*t*t*t)
}
