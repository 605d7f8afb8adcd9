// Package experiment defines experiments, their iteration parameters, and
// the boot steps each iteration runs.
package experiment

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/randalmurphal/hilo/internal/hardware"
	"github.com/randalmurphal/hilo/internal/retry"
)

// Kind is how an experiment generates its iterations.
type Kind string

const (
	// KindLoop repeats the same boot a fixed number of times.
	KindLoop Kind = "loop"
	// KindSweep walks one axis.
	KindSweep Kind = "sweep"
	// KindShmoo walks the cartesian product of two axes, Y outer and X inner.
	KindShmoo Kind = "shmoo"
)

// AxisType decides how axis values are generated.
type AxisType string

const (
	AxisFrequency AxisType = "frequency"
	AxisVoltage   AxisType = "voltage"
)

// voltageDecimals is the precision voltage axis values are rounded to.
const voltageDecimals = 5

// Axis is a linear parameter range.
type Axis struct {
	Domain string   `yaml:"domain" json:"domain"`
	Type   AxisType `yaml:"type" json:"type"`
	Start  float64  `yaml:"start" json:"start"`
	End    float64  `yaml:"end" json:"end"`
	Step   float64  `yaml:"step" json:"step"`
}

// Name is the parameter name the axis value is bound to, e.g. "ia_frequency".
func (a Axis) Name() string {
	return a.Domain + "_" + string(a.Type)
}

// Validate checks that the axis produces at least one value.
func (a Axis) Validate() error {
	if a.Domain == "" {
		return fmt.Errorf("axis domain is required")
	}
	if a.Step <= 0 {
		return fmt.Errorf("axis %s: step must be positive", a.Name())
	}
	if a.End < a.Start {
		return fmt.Errorf("axis %s: end %g is before start %g", a.Name(), a.End, a.Start)
	}
	switch a.Type {
	case AxisFrequency:
		if int(a.Step) < 1 {
			return fmt.Errorf("axis %s: frequency step must be at least 1", a.Name())
		}
	case AxisVoltage:
	default:
		return fmt.Errorf("axis %s: unknown type %q", a.Name(), a.Type)
	}
	return nil
}

// Values generates the axis points. Frequency axes are integer ranges and
// voltage axes are rounded to five decimals. Both always end exactly at End:
// a last step that lands past End is clamped to it.
func (a Axis) Values() ([]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	var values []float64
	switch a.Type {
	case AxisFrequency:
		start, end, step := int(a.Start), int(a.End), int(a.Step)
		for v := start; v < end+step; v += step {
			values = append(values, float64(v))
		}
	case AxisVoltage:
		scale := math.Pow10(voltageDecimals)
		for v := a.Start; v <= a.End+a.Step/2; v += a.Step {
			values = append(values, math.Round(v*scale)/scale)
		}
	}
	if last := len(values) - 1; last >= 0 && values[last] > a.End {
		values[last] = a.End
	}
	return values, nil
}

// Count returns the number of points without generating them.
func (a Axis) Count() int {
	values, err := a.Values()
	if err != nil {
		return 0
	}
	return len(values)
}

// Iteration is one unit of work: a single boot with bound parameters.
type Iteration struct {
	// Number is 1-based within the experiment.
	Number int                `json:"number"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Label renders the parameters in a stable order, e.g. "ia_frequency=24".
func (it Iteration) Label() string {
	if len(it.Params) == 0 {
		return fmt.Sprintf("#%d", it.Number)
	}
	keys := make([]string, 0, len(it.Params))
	for k := range it.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, it.Params[k])
	}
	return strings.Join(parts, " ")
}

// ActionSpec is a hardware action whose value may come from an iteration
// parameter.
type ActionSpec struct {
	Kind  hardware.ActionKind `yaml:"kind" json:"kind"`
	Path  string              `yaml:"path,omitempty" json:"path,omitempty"`
	Value uint64              `yaml:"value,omitempty" json:"value,omitempty"`
	// ValueFrom names an iteration parameter. The parameter is multiplied by
	// Scale (default 1) and rounded to produce the written value.
	ValueFrom string  `yaml:"value_from,omitempty" json:"value_from,omitempty"`
	Scale     float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// Resolve binds the action to an iteration.
func (s ActionSpec) Resolve(it Iteration) (hardware.Action, error) {
	a := hardware.Action{Kind: s.Kind, Path: s.Path, Value: s.Value}
	if s.ValueFrom == "" {
		return a, nil
	}
	p, ok := it.Params[s.ValueFrom]
	if !ok {
		return a, fmt.Errorf("iteration %d has no parameter %q", it.Number, s.ValueFrom)
	}
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	v := math.Round(p * scale)
	if v < 0 {
		return a, fmt.Errorf("parameter %s=%g scales to a negative value", s.ValueFrom, p)
	}
	a.Value = uint64(v)
	return a, nil
}

// StepSpec is the template for one retryable boot step.
type StepSpec struct {
	Name    string              `yaml:"name" json:"name"`
	Actions []ActionSpec        `yaml:"actions" json:"actions"`
	Confirm *retry.Confirmation `yaml:"confirm,omitempty" json:"confirm,omitempty"`
}

// Shmoo holds the two axes of a shmoo experiment.
type Shmoo struct {
	X Axis `yaml:"x" json:"x"`
	Y Axis `yaml:"y" json:"y"`
}

// Experiment is one queued unit of work. It is read-only once a run starts.
type Experiment struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Kind  Kind   `yaml:"kind" json:"kind"`
	Loops int    `yaml:"loops,omitempty" json:"loops,omitempty"`
	Sweep *Axis  `yaml:"sweep,omitempty" json:"sweep,omitempty"`
	Shmoo *Shmoo `yaml:"shmoo,omitempty" json:"shmoo,omitempty"`

	Steps []StepSpec `yaml:"steps" json:"steps"`

	// StopOnFail ends the whole run when this experiment fails. It is
	// inherited from the plan unless set on the experiment.
	StopOnFail *bool `yaml:"stop_on_fail,omitempty" json:"stop_on_fail,omitempty"`
}

// ShouldStopOnFail reports the effective stop-on-fail policy.
func (e *Experiment) ShouldStopOnFail() bool {
	return e.StopOnFail != nil && *e.StopOnFail
}

// Label returns the name, falling back to the ID.
func (e *Experiment) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// EstimatedIterations derives the iteration count from the kind.
func (e *Experiment) EstimatedIterations() int {
	switch e.Kind {
	case KindLoop:
		return max(e.Loops, 0)
	case KindSweep:
		if e.Sweep == nil {
			return 0
		}
		return e.Sweep.Count()
	case KindShmoo:
		if e.Shmoo == nil {
			return 0
		}
		return e.Shmoo.X.Count() * e.Shmoo.Y.Count()
	default:
		return 0
	}
}

// Iterations generates the ordered iteration parameters.
func (e *Experiment) Iterations() ([]Iteration, error) {
	switch e.Kind {
	case KindLoop:
		its := make([]Iteration, e.Loops)
		for i := range its {
			its[i] = Iteration{Number: i + 1, Params: map[string]float64{"loop": float64(i + 1)}}
		}
		return its, nil

	case KindSweep:
		if e.Sweep == nil {
			return nil, fmt.Errorf("sweep experiment %s has no axis", e.Label())
		}
		values, err := e.Sweep.Values()
		if err != nil {
			return nil, err
		}
		its := make([]Iteration, len(values))
		for i, v := range values {
			its[i] = Iteration{Number: i + 1, Params: map[string]float64{e.Sweep.Name(): v}}
		}
		return its, nil

	case KindShmoo:
		if e.Shmoo == nil {
			return nil, fmt.Errorf("shmoo experiment %s has no axes", e.Label())
		}
		xs, err := e.Shmoo.X.Values()
		if err != nil {
			return nil, fmt.Errorf("x %w", err)
		}
		ys, err := e.Shmoo.Y.Values()
		if err != nil {
			return nil, fmt.Errorf("y %w", err)
		}
		its := make([]Iteration, 0, len(xs)*len(ys))
		for _, y := range ys {
			for _, x := range xs {
				its = append(its, Iteration{
					Number: len(its) + 1,
					Params: map[string]float64{
						e.Shmoo.X.Name(): x,
						e.Shmoo.Y.Name(): y,
					},
				})
			}
		}
		return its, nil

	default:
		return nil, fmt.Errorf("experiment %s has unknown kind %q", e.Label(), e.Kind)
	}
}

// StepsFor binds the step templates to one iteration.
func (e *Experiment) StepsFor(it Iteration) ([]retry.Step, error) {
	steps := make([]retry.Step, 0, len(e.Steps))
	for _, spec := range e.Steps {
		step := retry.Step{Name: spec.Name, Confirm: spec.Confirm}
		for _, as := range spec.Actions {
			a, err := as.Resolve(it)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", spec.Name, err)
			}
			step.Actions = append(step.Actions, a)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Validate checks everything the executor relies on.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	switch e.Kind {
	case KindLoop:
		if e.Loops < 1 {
			return fmt.Errorf("loop experiment %s needs loops >= 1", e.ID)
		}
	case KindSweep:
		if e.Sweep == nil {
			return fmt.Errorf("sweep experiment %s needs a sweep axis", e.ID)
		}
		if err := e.Sweep.Validate(); err != nil {
			return fmt.Errorf("experiment %s: %w", e.ID, err)
		}
	case KindShmoo:
		if e.Shmoo == nil {
			return fmt.Errorf("shmoo experiment %s needs x and y axes", e.ID)
		}
		if err := e.Shmoo.X.Validate(); err != nil {
			return fmt.Errorf("experiment %s x: %w", e.ID, err)
		}
		if err := e.Shmoo.Y.Validate(); err != nil {
			return fmt.Errorf("experiment %s y: %w", e.ID, err)
		}
		if e.Shmoo.X.Name() == e.Shmoo.Y.Name() {
			return fmt.Errorf("experiment %s: x and y axes both bind %s", e.ID, e.Shmoo.X.Name())
		}
	default:
		return fmt.Errorf("experiment %s has unknown kind %q", e.ID, e.Kind)
	}

	if len(e.Steps) == 0 {
		return fmt.Errorf("experiment %s has no steps", e.ID)
	}
	params := e.paramNames()
	for _, s := range e.Steps {
		if s.Name == "" {
			return fmt.Errorf("experiment %s has a step without a name", e.ID)
		}
		if len(s.Actions) == 0 && s.Confirm == nil {
			return fmt.Errorf("experiment %s step %s does nothing", e.ID, s.Name)
		}
		for _, a := range s.Actions {
			if !a.Kind.IsValid() {
				return fmt.Errorf("experiment %s step %s: unknown action kind %q", e.ID, s.Name, a.Kind)
			}
			if a.Kind == hardware.ActionWrite && a.Path == "" {
				return fmt.Errorf("experiment %s step %s: write needs a path", e.ID, s.Name)
			}
			if a.ValueFrom != "" && !params[a.ValueFrom] {
				return fmt.Errorf("experiment %s step %s: unknown parameter %q", e.ID, s.Name, a.ValueFrom)
			}
		}
		if s.Confirm != nil && s.Confirm.Path == "" {
			return fmt.Errorf("experiment %s step %s: confirm needs a path", e.ID, s.Name)
		}
	}
	return nil
}

func (e *Experiment) paramNames() map[string]bool {
	names := map[string]bool{}
	switch e.Kind {
	case KindLoop:
		names["loop"] = true
	case KindSweep:
		if e.Sweep != nil {
			names[e.Sweep.Name()] = true
		}
	case KindShmoo:
		if e.Shmoo != nil {
			names[e.Shmoo.X.Name()] = true
			names[e.Shmoo.Y.Name()] = true
		}
	}
	return names
}
