// Package relax removes steric artifacts from predicted structures by
// iterative energy minimization.
//
// The force field is a configurable policy object: harmonic bonds between
// consecutive residues plus a soft-sphere repulsion between non-bonded
// pairs. Minimization is steepest descent and terminates on either
// gradient convergence or the iteration cap; both are valid outcomes and
// never errors. Exploding or non-finite forces are reported as numerical
// instability for that candidate alone.
package relax

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// ForceField holds the minimization policy parameters. Values are in
// ångströms and arbitrary energy units.
type ForceField struct {
	BondLength     float64 // rest length between consecutive residues
	BondK          float64 // harmonic bond stiffness
	RepulsionDist  float64 // soft-sphere contact distance
	RepulsionK     float64 // repulsion stiffness
	StepSize       float64 // descent step per iteration
	ForceTolerance float64 // max-force convergence threshold
	MaxForce       float64 // above this the run is declared unstable
}

// DefaultForceField returns the standard minimization policy.
func DefaultForceField() ForceField {
	return ForceField{
		BondLength:     3.8,
		BondK:          10.0,
		RepulsionDist:  3.0,
		RepulsionK:     4.0,
		StepSize:       0.01,
		ForceTolerance: 0.05,
		MaxForce:       1e6,
	}
}

// Engine minimizes candidate structures under one force field.
type Engine struct {
	ff     ForceField
	logger logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithForceField overrides the default force field.
func WithForceField(ff ForceField) Option {
	return func(e *Engine) {
		e.ff = ff
	}
}

// NewEngine creates a relaxation engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ff:     DefaultForceField(),
		logger: logger.Named("relax"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Relax minimizes the candidate's coordinates. The returned structure
// carries the convergence status and the iteration count; hitting
// maxIterations is a valid terminal state. Numerical blow-ups surface
// model.ErrNumericalInstability.
func (e *Engine) Relax(ctx context.Context, candidate model.RankedCandidate, maxIterations int) (model.RelaxedStructure, error) {
	if maxIterations <= 0 {
		return model.RelaxedStructure{}, fmt.Errorf("%w: max_iterations must be > 0", model.ErrInvalidInput)
	}
	n := len(candidate.Prediction.Coords)
	if n == 0 {
		return model.RelaxedStructure{}, fmt.Errorf("%w: candidate has no coordinates", model.ErrInvalidInput)
	}

	// Working copy; the prediction stays immutable. Force buffers are
	// scratch released with the stack on every exit path.
	coords := make([]model.Coord, n)
	copy(coords, candidate.Prediction.Coords)
	forces := make([]model.Coord, n)

	status := model.IterationLimit
	iterations := maxIterations
	for iter := 0; iter < maxIterations; iter++ {
		if iter%64 == 0 {
			select {
			case <-ctx.Done():
				return model.RelaxedStructure{}, fmt.Errorf("relaxation interrupted: %w", ctx.Err())
			default:
			}
		}

		maxF := e.computeForces(coords, forces)
		if math.IsNaN(maxF) || math.IsInf(maxF, 0) || maxF > e.ff.MaxForce {
			metrics.RecordRelaxOutcome("unstable")
			return model.RelaxedStructure{}, fmt.Errorf(
				"%w: candidate %s at iteration %d (max force %g)",
				model.ErrNumericalInstability, candidate.Prediction.MemberID, iter, maxF)
		}
		if maxF < e.ff.ForceTolerance {
			status = model.Converged
			iterations = iter
			break
		}

		for i := range coords {
			coords[i].X += e.ff.StepSize * forces[i].X
			coords[i].Y += e.ff.StepSize * forces[i].Y
			coords[i].Z += e.ff.StepSize * forces[i].Z
		}
	}

	energy := e.totalEnergy(coords)
	metrics.RecordRelaxOutcome(string(status))
	metrics.RecordRelaxIterations(iterations)
	e.logger.Debug(ctx, "relaxation finished",
		logger.String("candidate", candidate.Prediction.MemberID),
		logger.String("status", string(status)),
		logger.Int("iterations", iterations),
		logger.Float64("energy", energy),
	)

	return model.RelaxedStructure{
		CandidateID: candidate.Prediction.MemberID,
		Rank:        candidate.Rank,
		Coords:      coords,
		PLDDT:       candidate.Prediction.PLDDT,
		Global:      candidate.Prediction.Global,
		Convergence: status,
		Iterations:  iterations,
		FinalEnergy: energy,
	}, nil
}

// computeForces fills forces and returns the largest force magnitude.
func (e *Engine) computeForces(coords, forces []model.Coord) float64 {
	for i := range forces {
		forces[i] = model.Coord{}
	}

	// Harmonic bonds between consecutive residues.
	for i := 0; i+1 < len(coords); i++ {
		d, ux, uy, uz := displacement(coords[i], coords[i+1])
		if d == 0 {
			continue
		}
		f := e.ff.BondK * (d - e.ff.BondLength)
		forces[i].X += f * ux
		forces[i].Y += f * uy
		forces[i].Z += f * uz
		forces[i+1].X -= f * ux
		forces[i+1].Y -= f * uy
		forces[i+1].Z -= f * uz
	}

	// Soft-sphere repulsion between non-bonded pairs closer than the
	// contact distance.
	for i := 0; i < len(coords); i++ {
		for j := i + 2; j < len(coords); j++ {
			d, ux, uy, uz := displacement(coords[i], coords[j])
			if d == 0 || d >= e.ff.RepulsionDist {
				continue
			}
			f := e.ff.RepulsionK * (e.ff.RepulsionDist - d)
			forces[i].X -= f * ux
			forces[i].Y -= f * uy
			forces[i].Z -= f * uz
			forces[j].X += f * ux
			forces[j].Y += f * uy
			forces[j].Z += f * uz
		}
	}

	maxF := 0.0
	for i := range forces {
		m := math.Sqrt(forces[i].X*forces[i].X + forces[i].Y*forces[i].Y + forces[i].Z*forces[i].Z)
		if m > maxF || math.IsNaN(m) {
			maxF = m
		}
	}
	return maxF
}

// totalEnergy evaluates the force-field energy of coords.
func (e *Engine) totalEnergy(coords []model.Coord) float64 {
	energy := 0.0
	for i := 0; i+1 < len(coords); i++ {
		d, _, _, _ := displacement(coords[i], coords[i+1])
		dd := d - e.ff.BondLength
		energy += 0.5 * e.ff.BondK * dd * dd
	}
	for i := 0; i < len(coords); i++ {
		for j := i + 2; j < len(coords); j++ {
			d, _, _, _ := displacement(coords[i], coords[j])
			if d < e.ff.RepulsionDist {
				dd := e.ff.RepulsionDist - d
				energy += 0.5 * e.ff.RepulsionK * dd * dd
			}
		}
	}
	return energy
}

// displacement returns the distance between a and b and the unit vector
// from a toward b.
func displacement(a, b model.Coord) (d, ux, uy, uz float64) {
	dx, dy, dz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	d = math.Sqrt(dx*dx + dy*dy + dz*dz)
	if d == 0 {
		return 0, 0, 0, 0
	}
	return d, dx / d, dy / d, dz / d
}
