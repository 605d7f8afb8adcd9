package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/hilo/internal/config"
	"github.com/randalmurphal/hilo/internal/db"
	"github.com/randalmurphal/hilo/internal/db/driver"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/hardware"
)

// loadPlans loads the named plan files, or every plan under the configured
// plans directory when none are named.
func loadPlans(cfg *config.Config, files []string) ([]*experiment.Plan, error) {
	if len(files) == 0 {
		return experiment.LoadPlans(cfg.Plans.Dir, cfg.Plans.Pattern)
	}
	plans := make([]*experiment.Plan, 0, len(files))
	for _, f := range files {
		p, err := experiment.LoadPlan(f)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// planName labels a run by the plans it came from.
func planName(plans []*experiment.Plan) string {
	names := make([]string, 0, len(plans))
	for _, p := range plans {
		name := p.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(p.Source), filepath.Ext(p.Source))
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// forceStopOnFail makes every experiment end the run when it fails.
func forceStopOnFail(exps []experiment.Experiment) {
	for i := range exps {
		v := true
		exps[i].StopOnFail = &v
	}
}

// openStore opens the run history database.
func openStore(dbc config.DatabaseConfig) (*db.DB, error) {
	var (
		store *db.DB
		err   error
	)
	switch dbc.Driver {
	case config.DriverPostgres:
		store, err = db.OpenWithDialect(dbc.DSN, driver.DialectPostgres)
	default:
		store, err = db.Open(dbc.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbc.Driver, err)
	}
	return store, nil
}

// newTarget builds the configured hardware target.
func newTarget(hc config.HardwareConfig, logger *slog.Logger) (hardware.Target, error) {
	switch hc.Target {
	case config.TargetCommand:
		t, err := hardware.NewCommandTarget(hc.Command, hardware.WithCommandLogger(logger))
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return hardware.NewSim(hc.Sim, logger), nil
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(stream any) bool {
	f, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
