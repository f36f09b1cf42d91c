package analysis

import "math"

// lineFit — результат МНК по индексированному ряду x = 0..n-1.
type lineFit struct {
	slope     float64
	intercept float64
	rSquared  float64
	mean      float64
}

func (f lineFit) predict(i int) float64 {
	return f.intercept + f.slope*float64(i)
}

// normalizedChange — изменение по линии регрессии за весь ряд в процентах от среднего.
// Знак совпадает со знаком наклона.
func (f lineFit) normalizedChange(n int) float64 {
	if f.mean == 0 || n < 2 {
		return 0
	}
	return f.slope * float64(n-1) / math.Abs(f.mean) * 100
}

// fitLine считает обычную линейную регрессию.
// Для постоянного ряда R² = 1: линия описывает его идеально.
func fitLine(values []float64) lineFit {
	n := len(values)
	if n == 0 {
		return lineFit{}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	mean := sumY / fn

	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return lineFit{intercept: mean, rSquared: 1, mean: mean}
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	var ssTot, ssRes float64
	for i, y := range values {
		pred := intercept + slope*float64(i)
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - mean) * (y - mean)
	}

	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return lineFit{slope: slope, intercept: intercept, rSquared: r2, mean: mean}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
