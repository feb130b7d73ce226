package classifier

import "math"

type logistic struct {
	coefficients []float64
	intercept    float64
}

func (l *logistic) decisionFunction(x []float64) float64 {
	z := l.intercept
	for i, w := range l.coefficients {
		z += w * x[i]
	}
	return z
}

func (l *logistic) probability(x []float64) float64 {
	z := l.decisionFunction(x)
	// Split on sign so exp never overflows.
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func (l *logistic) decide(x []float64) int {
	if l.decisionFunction(x) > 0 {
		return 1
	}
	return 0
}
