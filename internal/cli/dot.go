package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anggasct/planfsm"
	"github.com/anggasct/planfsm/visualization"
)

func (a *App) newDotCmd() *cobra.Command {
	var (
		mode   string
		output string
		svg    bool
	)

	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Print the commuter plan as a Graphviz graph",
		Example: `  plansim dot | dot -Tpng > plan.png
  plansim dot --svg -o plan.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := planfsm.ParseMode(mode)
			if err != nil {
				return err
			}
			plan, err := commuterPlan(m, &tripCounter{})
			if err != nil {
				return fmt.Errorf("build plan: %w", err)
			}

			gen := visualization.NewDOTGenerator(plan)
			if output != "" && !svg {
				return gen.GenerateToFile(output)
			}

			var content string
			if svg {
				content, err = gen.GenerateSVG()
			} else {
				content, err = gen.Generate()
			}
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, []byte(content), 0644)
			}
			_, err = fmt.Fprint(a.stdout, content)
			return err
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "car", "travel mode of the commute trips")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.Flags().BoolVar(&svg, "svg", false, "render SVG through the Graphviz dot binary")

	return cmd
}
