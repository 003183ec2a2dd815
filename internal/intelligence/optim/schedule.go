package optim

import "math"

// LambdaLR sets the learning rate to base·fn(t) after the t-th Step, where
// base is the learning rate at construction.
type LambdaLR struct {
	opt  *Adam
	base float64
	fn   func(t int) float64
	t    int
}

// NewLambdaLR applies fn(0) immediately.
func NewLambdaLR(opt *Adam, fn func(t int) float64) *LambdaLR {
	s := &LambdaLR{opt: opt, base: opt.LR(), fn: fn}
	opt.SetLR(s.base * fn(0))
	return s
}

// Step advances the schedule by one update.
func (s *LambdaLR) Step() {
	s.t++
	s.opt.SetLR(s.base * s.fn(s.t))
}

// Epoch is the number of schedule steps taken.
func (s *LambdaLR) Epoch() int { return s.t }

// SetEpoch restores the schedule position.
func (s *LambdaLR) SetEpoch(t int) {
	s.t = t
	s.opt.SetLR(s.base * s.fn(t))
}

// HalvingDecay halves the learning rate every decay steps: 2^(-t/decay).
func HalvingDecay(decay float64) func(int) float64 {
	return func(t int) float64 { return math.Pow(2, -float64(t)/decay) }
}
