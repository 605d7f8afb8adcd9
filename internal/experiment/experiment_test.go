package experiment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/hardware"
)

func TestAxisValues(t *testing.T) {
	tests := []struct {
		name string
		axis Axis
		want []float64
	}{
		{
			name: "frequency inclusive",
			axis: Axis{Domain: "ia", Type: AxisFrequency, Start: 8, End: 12, Step: 2},
			want: []float64{8, 10, 12},
		},
		{
			name: "frequency uneven step clamps to end",
			axis: Axis{Domain: "ia", Type: AxisFrequency, Start: 8, End: 10, Step: 3},
			want: []float64{8, 10},
		},
		{
			name: "frequency single point",
			axis: Axis{Domain: "cfc", Type: AxisFrequency, Start: 16, End: 16, Step: 1},
			want: []float64{16},
		},
		{
			name: "voltage rounded and inclusive",
			axis: Axis{Domain: "ia", Type: AxisVoltage, Start: 0.8, End: 0.9, Step: 0.05},
			want: []float64{0.8, 0.85, 0.9},
		},
		{
			name: "voltage uneven step clamps to end",
			axis: Axis{Domain: "ia", Type: AxisVoltage, Start: 0.8, End: 0.9, Step: 0.06},
			want: []float64{0.8, 0.86, 0.9},
		},
		{
			name: "voltage accumulates without drift",
			axis: Axis{Domain: "cfc", Type: AxisVoltage, Start: 0.1, End: 0.3, Step: 0.1},
			want: []float64{0.1, 0.2, 0.3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.axis.Values()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), tt.axis.Count())
		})
	}
}

func TestAxisValidate(t *testing.T) {
	bad := []Axis{
		{Type: AxisFrequency, Start: 1, End: 2, Step: 1},
		{Domain: "ia", Type: AxisFrequency, Start: 1, End: 2, Step: 0},
		{Domain: "ia", Type: AxisFrequency, Start: 3, End: 2, Step: 1},
		{Domain: "ia", Type: AxisFrequency, Start: 1, End: 2, Step: 0.5},
		{Domain: "ia", Type: "current", Start: 1, End: 2, Step: 1},
	}
	for _, a := range bad {
		assert.Error(t, a.Validate(), "%+v", a)
		assert.Zero(t, a.Count())
	}
}

func TestIterations(t *testing.T) {
	t.Run("loop", func(t *testing.T) {
		e := Experiment{ID: "l", Kind: KindLoop, Loops: 3}
		its, err := e.Iterations()
		require.NoError(t, err)
		require.Len(t, its, 3)
		assert.Equal(t, 3, e.EstimatedIterations())
		assert.Equal(t, 3, its[2].Number)
		assert.Equal(t, 3.0, its[2].Params["loop"])
	})

	t.Run("sweep", func(t *testing.T) {
		e := Experiment{ID: "s", Kind: KindSweep, Sweep: &Axis{Domain: "ia", Type: AxisFrequency, Start: 20, End: 24, Step: 2}}
		its, err := e.Iterations()
		require.NoError(t, err)
		require.Len(t, its, 3)
		assert.Equal(t, 3, e.EstimatedIterations())
		assert.Equal(t, 22.0, its[1].Params["ia_frequency"])
		assert.Equal(t, "ia_frequency=22", its[1].Label())
	})

	t.Run("shmoo y outer x inner", func(t *testing.T) {
		e := Experiment{ID: "sh", Kind: KindShmoo, Shmoo: &Shmoo{
			X: Axis{Domain: "ia", Type: AxisFrequency, Start: 1, End: 3, Step: 1},
			Y: Axis{Domain: "ia", Type: AxisVoltage, Start: 0.8, End: 0.9, Step: 0.1},
		}}
		its, err := e.Iterations()
		require.NoError(t, err)
		require.Len(t, its, 6)
		assert.Equal(t, 6, e.EstimatedIterations())

		assert.Equal(t, 1.0, its[0].Params["ia_frequency"])
		assert.Equal(t, 0.8, its[0].Params["ia_voltage"])
		assert.Equal(t, 3.0, its[2].Params["ia_frequency"])
		assert.Equal(t, 0.8, its[2].Params["ia_voltage"])
		assert.Equal(t, 1.0, its[3].Params["ia_frequency"])
		assert.Equal(t, 0.9, its[3].Params["ia_voltage"])
		assert.Equal(t, 6, its[5].Number)
	})

	t.Run("unknown kind", func(t *testing.T) {
		e := Experiment{ID: "x", Kind: "random"}
		_, err := e.Iterations()
		assert.Error(t, err)
		assert.Zero(t, e.EstimatedIterations())
	})
}

func TestStepsFor(t *testing.T) {
	e := Experiment{
		ID:   "s",
		Kind: KindSweep,
		Sweep: &Axis{
			Domain: "ia", Type: AxisVoltage, Start: 0.8, End: 0.8, Step: 0.1,
		},
		Steps: []StepSpec{{
			Name: "boot",
			Actions: []ActionSpec{
				{Kind: hardware.ActionWrite, Path: "ia.vid", ValueFrom: "ia_voltage", Scale: 1000},
				{Kind: hardware.ActionBoot},
			},
		}},
	}

	its, err := e.Iterations()
	require.NoError(t, err)
	steps, err := e.StepsFor(its[0])
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, uint64(800), steps[0].Actions[0].Value)
	assert.Equal(t, hardware.ActionBoot, steps[0].Actions[1].Kind)

	_, err = e.StepsFor(Iteration{Number: 1})
	assert.Error(t, err, "missing parameter")
}

const samplePlan = `
name: ia-bringup
stop_on_fail: true
experiments:
  - id: baseline
    kind: loop
    loops: 2
    steps:
      - name: boot
        actions:
          - kind: boot
        confirm:
          path: postcode
          target: 0xef0000ff
  - id: ratio-sweep
    kind: sweep
    stop_on_fail: false
    sweep: {domain: ia, type: frequency, start: 20, end: 24, step: 2}
    steps:
      - name: set-ratio
        actions:
          - {kind: write, path: ia.ratio, value_from: ia_frequency}
          - {kind: boot}
`

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan([]byte(samplePlan), "sample.yaml")
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	require.Len(t, p.Experiments, 2)
	assert.True(t, p.Experiments[0].ShouldStopOnFail(), "inherits plan policy")
	assert.False(t, p.Experiments[1].ShouldStopOnFail(), "experiment overrides plan policy")
	assert.Equal(t, hardware.PostcodeEFI, p.Experiments[0].Steps[0].Confirm.Target)
	assert.Equal(t, 3, p.Experiments[1].EstimatedIterations())
}

func TestParsePlan_BadYAML(t *testing.T) {
	_, err := ParsePlan([]byte("experiments: [unterminated"), "bad.yaml")
	require.Error(t, err)
	assert.Equal(t, hiloerrors.CodePlanInvalid, hiloerrors.AsHiloError(err).Code)
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
	}{
		{"empty", Plan{}},
		{"duplicate ids", Plan{Experiments: []Experiment{
			{ID: "a", Kind: KindLoop, Loops: 1, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{{Kind: hardware.ActionBoot}}}}},
			{ID: "a", Kind: KindLoop, Loops: 1, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{{Kind: hardware.ActionBoot}}}}},
		}}},
		{"no steps", Plan{Experiments: []Experiment{{ID: "a", Kind: KindLoop, Loops: 1}}}},
		{"zero loops", Plan{Experiments: []Experiment{
			{ID: "a", Kind: KindLoop, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{{Kind: hardware.ActionBoot}}}}},
		}}},
		{"unknown parameter", Plan{Experiments: []Experiment{
			{ID: "a", Kind: KindLoop, Loops: 1, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{
				{Kind: hardware.ActionWrite, Path: "r", ValueFrom: "ia_voltage"},
			}}}},
		}}},
		{"write without path", Plan{Experiments: []Experiment{
			{ID: "a", Kind: KindLoop, Loops: 1, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{{Kind: hardware.ActionWrite}}}}},
		}}},
		{"same shmoo axes", Plan{Experiments: []Experiment{
			{ID: "a", Kind: KindShmoo, Shmoo: &Shmoo{
				X: Axis{Domain: "ia", Type: AxisFrequency, Start: 1, End: 2, Step: 1},
				Y: Axis{Domain: "ia", Type: AxisFrequency, Start: 1, End: 2, Step: 1},
			}, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{{Kind: hardware.ActionBoot}}}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, &hiloerrors.HiloError{Code: hiloerrors.CodePlanInvalid}))
		})
	}
}

func TestValidateQueue(t *testing.T) {
	exp := func(id string) Experiment {
		return Experiment{ID: id, Kind: KindLoop, Loops: 1, Steps: []StepSpec{{Name: "s", Actions: []ActionSpec{{Kind: hardware.ActionBoot}}}}}
	}
	a := &Plan{Source: "a.yaml", Experiments: []Experiment{exp("baseline"), exp("sweep")}}
	b := &Plan{Source: "b.yaml", Experiments: []Experiment{exp("soak")}}
	c := &Plan{Source: "c.yaml", Experiments: []Experiment{exp("baseline")}}

	assert.NoError(t, ValidateQueue(a, b))
	assert.Empty(t, QueueProblems(a, b))

	err := ValidateQueue(a, b, c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &hiloerrors.HiloError{Code: hiloerrors.CodePlanInvalid}))
	assert.Contains(t, err.Error(), "c.yaml")
	assert.Equal(t, []string{"c.yaml: experiment id baseline is already defined in a.yaml"}, QueueProblems(a, b, c))
}

func TestLoadPlans(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.yaml"), []byte(samplePlan), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "b.yml"), []byte(samplePlan), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	plans, err := LoadPlans(root, "")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, filepath.Join(root, "a.yaml"), plans[0].Source)

	queue := Queue(plans...)
	assert.Len(t, queue, 4)
}

func TestLoadPlans_NoMatches(t *testing.T) {
	_, err := LoadPlans(t.TempDir(), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
