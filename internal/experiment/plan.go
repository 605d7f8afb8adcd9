package experiment

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// DefaultPlanPattern matches plan files under a plans directory.
const DefaultPlanPattern = "**/*.{yaml,yml}"

// Plan is an ordered list of experiments with plan-level policy.
type Plan struct {
	Name        string       `yaml:"name" json:"name"`
	StopOnFail  bool         `yaml:"stop_on_fail" json:"stop_on_fail"`
	Experiments []Experiment `yaml:"experiments" json:"experiments"`

	// Source is the file the plan was loaded from.
	Source string `yaml:"-" json:"source,omitempty"`
}

// ParsePlan decodes a plan document and applies plan-level defaults.
func ParsePlan(data []byte, source string) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, hiloerrors.PlanInvalid(source, err.Error()).WithCause(err)
	}
	p.Source = source
	p.applyDefaults()
	return &p, nil
}

// LoadPlan reads and parses one plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	return ParsePlan(data, path)
}

// LoadPlans loads every plan under root matching pattern, in lexical order.
// An empty pattern uses DefaultPlanPattern.
func LoadPlans(root, pattern string) ([]*Plan, error) {
	if pattern == "" {
		pattern = DefaultPlanPattern
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s in %s: %w", pattern, root, err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no plans match %s in %s: %w", pattern, root, fs.ErrNotExist)
	}

	plans := make([]*Plan, 0, len(matches))
	for _, m := range matches {
		p, err := LoadPlan(filepath.Join(root, filepath.FromSlash(m)))
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Queue flattens plans into one experiment queue.
func Queue(plans ...*Plan) []Experiment {
	var out []Experiment
	for _, p := range plans {
		out = append(out, p.Experiments...)
	}
	return out
}

// QueueProblems lists experiment ids that more than one of plans defines.
// Ids repeated inside a single plan are reported by that plan's Problems.
func QueueProblems(plans ...*Plan) []string {
	conflicts := queueConflicts(plans)
	problems := make([]string, len(conflicts))
	for i, c := range conflicts {
		problems[i] = fmt.Sprintf("%s: %s", c.source, c.reason)
	}
	return problems
}

// ValidateQueue checks that plans can run together as one queue.
func ValidateQueue(plans ...*Plan) error {
	conflicts := queueConflicts(plans)
	if len(conflicts) == 0 {
		return nil
	}
	reason := conflicts[0].reason
	if len(conflicts) > 1 {
		reason = fmt.Sprintf("%s (and %d more)", reason, len(conflicts)-1)
	}
	return hiloerrors.PlanInvalid(conflicts[0].source, reason)
}

type queueConflict struct {
	source string
	reason string
}

func queueConflicts(plans []*Plan) []queueConflict {
	var conflicts []queueConflict
	owner := make(map[string]string)
	for _, p := range plans {
		ids := make(map[string]bool)
		for i := range p.Experiments {
			id := p.Experiments[i].ID
			if id == "" || ids[id] {
				continue
			}
			ids[id] = true
			if first, ok := owner[id]; ok {
				conflicts = append(conflicts, queueConflict{
					source: p.Source,
					reason: fmt.Sprintf("experiment id %s is already defined in %s", id, first),
				})
				continue
			}
			owner[id] = p.Source
		}
	}
	return conflicts
}

// Validate checks the plan and every experiment in it. All problems are
// collected into a single PLAN_INVALID error.
func (p *Plan) Validate() error {
	problems := p.Problems()
	if len(problems) == 0 {
		return nil
	}
	reason := problems[0]
	if len(problems) > 1 {
		reason = fmt.Sprintf("%s (and %d more)", problems[0], len(problems)-1)
	}
	return hiloerrors.PlanInvalid(p.Source, reason)
}

// Problems lists every validation failure.
func (p *Plan) Problems() []string {
	var problems []string
	if len(p.Experiments) == 0 {
		problems = append(problems, "plan has no experiments")
	}
	seen := make(map[string]bool)
	for i := range p.Experiments {
		e := &p.Experiments[i]
		if e.ID != "" && seen[e.ID] {
			problems = append(problems, fmt.Sprintf("duplicate experiment id %s", e.ID))
		}
		seen[e.ID] = true
		if err := e.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

func (p *Plan) applyDefaults() {
	for i := range p.Experiments {
		e := &p.Experiments[i]
		if e.StopOnFail == nil {
			v := p.StopOnFail
			e.StopOnFail = &v
		}
		if e.ID == "" && e.Name != "" {
			e.ID = e.Name
		}
	}
}
