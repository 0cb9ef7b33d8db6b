package survey

import (
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/creel-data/creel.report/internal/frame"
)

// PostStratify adjusts the design's weights so the weighted count of
// each category of variable matches the population frequency table.
// freq maps category label (freqVarCol) to population count (freqCol).
// A category present in the records but absent from the frequency table
// is fatal; the reverse is only a warning (the sample simply missed it).
func PostStratify(d *Design, variable string, freq *frame.Table, freqVarCol, freqCol string) (*Design, error) {
	if !d.records.HasColumn(variable) {
		return nil, &MissingColumnError{Table: "records", Columns: []string{variable}}
	}
	var missing []string
	for _, c := range []string{freqVarCol, freqCol} {
		if !freq.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Table: "frequency", Columns: missing}
	}
	pop, ok := freq.Float(freqCol)
	if !ok {
		return nil, fmt.Errorf("frequency column %q must be numeric", freqCol)
	}

	target := make(map[string]float64, freq.Len())
	for r := 0; r < freq.Len(); r++ {
		lbl, _ := freq.Label(freqVarCol, r)
		target[lbl] += pop[r]
	}

	current := make(map[string]float64)
	labels := make([]string, d.records.Len())
	for r := 0; r < d.records.Len(); r++ {
		lbl, _ := d.records.Label(variable, r)
		labels[r] = lbl
		current[lbl] += d.weights[r]
	}

	factor := make([]float64, d.records.Len())
	for r, lbl := range labels {
		t, ok := target[lbl]
		if !ok {
			return nil, fmt.Errorf("post-stratification: category %s=%q has no row in the "+
				"population frequency table", variable, lbl)
		}
		factor[r] = t / current[lbl]
	}
	for lbl := range target {
		if _, ok := current[lbl]; !ok {
			log.Printf("survey: post-stratification category %s=%q has no sampled records", variable, lbl)
		}
	}
	out := d.scaleWeights(factor)
	out.warnings = append(out.Warnings(), fmt.Sprintf("post-stratified on %s", variable))
	return out, nil
}

// CalibrationMethod selects the calibration distance function. This is a
// configuration choice: all three run through the same Newton iteration,
// differing only in the g-weight transform.
type CalibrationMethod string

const (
	CalLinear CalibrationMethod = "linear"
	CalRaking CalibrationMethod = "raking"
	CalLogit  CalibrationMethod = "logit"
)

// CalibrationOptions tunes Calibrate. Zero values get defaults: linear
// method, 50 iterations, 1e-8 relative tolerance, logit bounds (0.2, 3).
type CalibrationOptions struct {
	Method    CalibrationMethod
	MaxIter   int
	Tol       float64
	BoundLow  float64 // logit only
	BoundHigh float64 // logit only
}

// Calibrate reweights the design so weighted totals of the auxiliary
// columns named in totals match the supplied external control totals
// (Deville-Sarndal calibration). Auxiliary columns must be numeric
// record columns; include a constant-1 column to calibrate the weighted
// record count itself.
func Calibrate(d *Design, totals map[string]float64, opts CalibrationOptions) (*Design, error) {
	if opts.Method == "" {
		opts.Method = CalLinear
	}
	if opts.MaxIter == 0 {
		opts.MaxIter = 50
	}
	if opts.Tol == 0 {
		opts.Tol = 1e-8
	}
	if opts.BoundLow == 0 {
		opts.BoundLow = 0.2
	}
	if opts.BoundHigh == 0 {
		opts.BoundHigh = 3
	}

	vars := make([]string, 0, len(totals))
	for v := range totals {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	var missing []string
	cols := make([][]float64, len(vars))
	for i, v := range vars {
		c, ok := d.records.Float(v)
		if !ok {
			missing = append(missing, v)
			continue
		}
		cols[i] = c
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Table: "records", Columns: missing}
	}

	p := len(vars)
	n := d.records.Len()
	T := make([]float64, p)
	for i, v := range vars {
		T[i] = totals[v]
	}

	F, Fp := calibrationTransform(opts)

	lambda := mat.NewVecDense(p, nil)
	g := make([]float64, n)
	for iter := 0; iter < opts.MaxIter; iter++ {
		// Current calibrated totals and Jacobian.
		resid := mat.NewVecDense(p, nil)
		jac := mat.NewDense(p, p, nil)
		for r := 0; r < n; r++ {
			var u float64
			for j := 0; j < p; j++ {
				u += cols[j][r] * lambda.AtVec(j)
			}
			g[r] = F(u)
			df := d.weights[r] * Fp(u)
			for j := 0; j < p; j++ {
				resid.SetVec(j, resid.AtVec(j)+d.weights[r]*g[r]*cols[j][r])
				for k := 0; k < p; k++ {
					jac.Set(j, k, jac.At(j, k)+df*cols[j][r]*cols[k][r])
				}
			}
		}
		var maxRel float64
		for j := 0; j < p; j++ {
			resid.SetVec(j, T[j]-resid.AtVec(j))
			rel := math.Abs(resid.AtVec(j)) / (1 + math.Abs(T[j]))
			if rel > maxRel {
				maxRel = rel
			}
		}
		if maxRel < opts.Tol {
			out := d.scaleWeights(g)
			out.warnings = append(out.Warnings(),
				fmt.Sprintf("calibrated (%s) to %d control total(s)", opts.Method, p))
			return out, nil
		}

		step := mat.NewVecDense(p, nil)
		if err := step.SolveVec(jac, resid); err != nil {
			return nil, fmt.Errorf("calibration system is singular for variables %v: %w", vars, err)
		}
		lambda.AddVec(lambda, step)
	}
	return nil, fmt.Errorf("calibration (%s) did not converge in %d iterations", opts.Method, opts.MaxIter)
}

// calibrationTransform returns the g-weight transform F and its
// derivative for the configured method.
func calibrationTransform(opts CalibrationOptions) (F, Fp func(float64) float64) {
	switch opts.Method {
	case CalRaking:
		return math.Exp, math.Exp
	case CalLogit:
		L, U := opts.BoundLow, opts.BoundHigh
		A := (U - L) / ((1 - L) * (U - 1))
		F = func(u float64) float64 {
			e := math.Exp(A * u)
			return (L*(U-1) + U*(1-L)*e) / ((U - 1) + (1-L)*e)
		}
		Fp = func(u float64) float64 {
			e := math.Exp(A * u)
			den := (U - 1) + (1-L)*e
			return A * (1 - L) * (U - 1) * (U - L) * e / (den * den)
		}
		return F, Fp
	default: // CalLinear
		return func(u float64) float64 { return 1 + u },
			func(float64) float64 { return 1 }
	}
}
