package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/hilo/internal/config"
	"github.com/randalmurphal/hilo/internal/util"
)

// examplePlanName is written by init when the plans directory is empty.
const examplePlanName = "example.yaml"

const examplePlan = `# Example plan. Run it against the simulator with: hilo run --target sim
name: example
stop_on_fail: false
experiments:
  - id: cold-boot
    name: Cold boot loop
    kind: loop
    loops: 5
    steps:
      - name: boot
        actions:
          - kind: boot
        confirm:
          path: postcode
          target: 0xef0000ff

  - id: ia-ratio-sweep
    name: IA ratio sweep
    kind: sweep
    sweep: {domain: ia, type: frequency, start: 20, end: 26, step: 2}
    steps:
      - name: set-ratio
        actions:
          - {kind: write, path: ia.ratio, value_from: ia_frequency}
      - name: boot
        actions:
          - kind: boot
        confirm:
          path: postcode
          target: 0xef0000ff
`

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize hilo in the current directory",
		Long: `Create .hilo/ with a default config, the runs directory, and a plans
directory holding an example plan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(force); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "✓ Created %s\n", filepath.Join(config.HiloDir, config.ConfigFileName))

			cfg := config.Default()
			planPath := filepath.Join(cfg.Plans.Dir, examplePlanName)
			if _, err := os.Stat(planPath); os.IsNotExist(err) {
				if err := util.AtomicWriteFile(planPath, []byte(examplePlan), 0644); err != nil {
					return fmt.Errorf("write example plan: %w", err)
				}
				_, _ = fmt.Fprintf(out, "✓ Created %s\n", planPath)
			}

			_, _ = fmt.Fprintln(out, "\nNext: hilo validate && hilo run")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
