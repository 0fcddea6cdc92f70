package uccs

import (
	"log"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// ObjFun returns the value and gradient of an objective at x.
type ObjFun func(x []float64) (float64, []float64, error)

// Options are options for Minimize.
type Options struct {
	gradTol       float64
	maxIterations int
	logInterval   time.Duration
	recorder      func(iter int, f, gradNorm float64) error
}

// NewOptions returns the default minimization options.
func NewOptions() Options {
	opt := Options{}
	opt.gradTol = 1e-6
	opt.maxIterations = 1000
	opt.logInterval = time.Second
	return opt
}

// GradTol sets the gradient norm below which the minimization converges.
func (opt Options) GradTol(tol float64) Options {
	opt.gradTol = tol
	return opt
}

// MaxIterations sets the maximum iterations.
func (opt Options) MaxIterations(i int) Options {
	opt.maxIterations = i
	return opt
}

// LogInterval sets the minimum interval between progress logs. A negative interval disables logging.
func (opt Options) LogInterval(d time.Duration) Options {
	opt.logInterval = d
	return opt
}

// Recorder sets a function called after every iteration.
func (opt Options) Recorder(f func(iter int, f, gradNorm float64) error) Options {
	opt.recorder = f
	return opt
}

// Result is the outcome of a minimization.
type Result struct {
	X               []float64
	F               float64
	Grad            []float64
	Status          optimize.Status
	Converged       bool
	Iterations      int
	FuncEvaluations int
	Runtime         time.Duration
}

// Minimize minimizes fun with BFGS starting from x0.
// The returned Result holds the best point found even if an error is returned.
func Minimize(fun ObjFun, x0 []float64, options ...Options) (Result, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	// optimize asks for the value and the gradient separately.
	var cache struct {
		x   []float64
		f   float64
		g   []float64
		err error
	}
	eval := func(x []float64) (float64, []float64) {
		if cache.x != nil && floats.Equal(cache.x, x) {
			return cache.f, cache.g
		}
		f, g, err := fun(x)
		if err != nil {
			if cache.err == nil {
				cache.err = err
			}
			f, g = math.NaN(), make([]float64, len(x))
		}
		cache.x, cache.f, cache.g = slices.Clone(x), f, g
		return f, g
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f, _ := eval(x)
			return f
		},
		Grad: func(grad, x []float64) {
			_, g := eval(x)
			copy(grad, g)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: opt.gradTol,
		MajorIterations:   opt.maxIterations,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 20},
		Recorder:          &recorder{opt: opt, throttle: newSkipThrottler(opt.logInterval)},
	}

	res, err := optimize.Minimize(problem, slices.Clone(x0), settings, &optimize.BFGS{})
	var result Result
	if res != nil {
		result = Result{
			X:               res.X,
			F:               res.F,
			Grad:            res.Gradient,
			Status:          res.Status,
			Converged:       converged(res.Status),
			Iterations:      res.MajorIterations,
			FuncEvaluations: res.FuncEvaluations,
			Runtime:         res.Runtime,
		}
	}
	if cache.err != nil {
		return result, errors.Wrap(cache.err, "")
	}
	if err != nil {
		return result, errors.Wrap(err, "")
	}
	return result, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence, optimize.MethodConverge:
		return true
	default:
		return false
	}
}

type recorder struct {
	opt      Options
	throttle *skipThrottler
}

func (r *recorder) Init() error { return nil }

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	gradNorm := floats.Norm(loc.Gradient, 2)
	if r.opt.logInterval >= 0 && r.throttle.Ok() {
		log.Printf("%d %f %g", stats.MajorIterations, loc.F, gradNorm)
	}
	if r.opt.recorder != nil {
		if err := r.opt.recorder(stats.MajorIterations, loc.F, gradNorm); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}
