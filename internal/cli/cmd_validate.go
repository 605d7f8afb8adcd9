package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/hilo/internal/experiment"
)

// newValidateCmd creates the validate command.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plan-file...]",
		Short: "Check configuration and experiment plans",
		Long: `Check the merged configuration and every experiment plan without
touching the hardware.

Each experiment is checked for a known kind, a usable axis, and boot
steps whose actions and parameter bindings resolve.

Examples:
  hilo validate
  hilo validate plans/ia-bringup.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			tc, err := loadConfig()
			if err != nil {
				return err
			}
			if err := tc.Config.Validate(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "✓ configuration")

			plans, err := loadPlans(tc.Config, args)
			if err != nil {
				return err
			}

			invalid := 0
			for _, p := range plans {
				problems := p.Problems()
				if len(problems) > 0 {
					invalid++
					_, _ = fmt.Fprintf(out, "✗ %s\n", p.Source)
					for _, problem := range problems {
						_, _ = fmt.Fprintf(out, "    - %s\n", problem)
					}
					continue
				}

				iterations := 0
				for i := range p.Experiments {
					iterations += p.Experiments[i].EstimatedIterations()
				}
				_, _ = fmt.Fprintf(out, "✓ %s: %d experiments, %d iterations\n", p.Source, len(p.Experiments), iterations)
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d plans are invalid", invalid, len(plans))
			}

			if problems := experiment.QueueProblems(plans...); len(problems) > 0 {
				_, _ = fmt.Fprintln(out, "✗ queue")
				for _, problem := range problems {
					_, _ = fmt.Fprintf(out, "    - %s\n", problem)
				}
				return fmt.Errorf("plans cannot run together: %d duplicate experiment ids", len(problems))
			}
			return nil
		},
	}
}
