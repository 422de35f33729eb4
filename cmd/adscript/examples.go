package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/refine"
)

type scenario struct {
	Title    string
	Expect   string
	Original models.Script
	Selected []int
	Output   string
}

func numberedScript(n int) models.Script {
	s := make(models.Script, n)
	for i := range s {
		s[i] = models.ScriptLine{
			Line:         fmt.Sprintf("Original line %d", i+1),
			ArtDirection: fmt.Sprintf("Original art direction %d", i+1),
		}
	}
	return s
}

// scenarios replays the agent misbehaviours the reconciler is built to absorb.
var scenarios = []scenario{
	{
		Title:    "Only authorized changes",
		Expect:   "all changes are accepted",
		Original: numberedScript(4),
		Selected: []int{1, 2},
		Output: `[
    ("Original line 1", "Original art direction 1"),
    ("Modified line 2", "Modified art direction 2"),
    ("Modified line 3", "Modified art direction 3"),
    ("Original line 4", "Original art direction 4")
]`,
	},
	{
		Title:    "Unauthorized changes",
		Expect:   "edits outside the selection are reverted",
		Original: numberedScript(4),
		Selected: []int{1},
		Output: `[
    ("THIS SHOULD BE REVERTED", "THIS SHOULD ALSO BE REVERTED"),
    ("Modified line 2", "Modified art direction 2"),
    ("THIS SHOULD BE REVERTED TOO", "AND THIS"),
    ("YET ANOTHER UNAUTHORIZED CHANGE", "ANOTHER ONE")
]`,
	},
	{
		Title:    "Missing lines",
		Expect:   "the script is padded from the original",
		Original: numberedScript(4),
		Selected: []int{2, 3},
		Output: `[
    ("Original line 1", "Original art direction 1"),
    ("Original line 2", "Original art direction 2")
]`,
	},
	{
		Title:    "Extra lines",
		Expect:   "the script is truncated to the original length",
		Original: numberedScript(4),
		Selected: []int{0},
		Output: `[
    ("Modified line 1", "Modified art direction 1"),
    ("Original line 2", "Original art direction 2"),
    ("Original line 3", "Original art direction 3"),
    ("Original line 4", "Original art direction 4"),
    ("EXTRA LINE THAT SHOULD BE REMOVED", "EXTRA ART DIRECTION")
]`,
	},
	{
		Title:    "Marker removal",
		Expect:   "no marker survives in the final script",
		Original: numberedScript(3),
		Selected: []int{1},
		Output: `[
    ("[[PRESERVE: 0]] Original line 1 [[END PRESERVE]]", "[[PRESERVE: 0]] Original art direction 1 [[END PRESERVE]]"),
    ("[[SELECTED FOR MODIFICATION: 1]] Modified line 2 [[END SELECTED]]", "[[SELECTED FOR MODIFICATION: 1]] Modified art direction 2 [[END SELECTED]]"),
    ("[[PRESERVE: 2]] Original line 3 [[END PRESERVE]]", "[[PRESERVE: 2]] Original art direction 3 [[END PRESERVE]]")
]`,
	},
}

type scenarioResult struct {
	Example int    `json:"example"`
	Title   string `json:"title"`
	report
}

func newExamplesCommand(out *outputOptions) *cobra.Command {
	var only int

	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Replay built-in agent replies through the reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if only < 0 || only > len(scenarios) {
				return fmt.Errorf("--only must be between 1 and %d", len(scenarios))
			}

			var results []scenarioResult
			colorize := colorEnabled(cmd, out)
			w := cmd.OutOrStdout()
			for i, sc := range scenarios {
				if only != 0 && only != i+1 {
					continue
				}
				selection := models.NewSelectionSet(sc.Selected...)
				final, meta := refine.Reconcile(sc.Output, sc.Original, selection)
				if out.json {
					results = append(results, scenarioResult{
						Example: i + 1,
						Title:   sc.Title,
						report:  report{Script: final, Validation: meta},
					})
					continue
				}

				heading := fmt.Sprintf("Example %d: %s", i+1, sc.Title)
				fmt.Fprintln(w, heading)
				fmt.Fprintln(w, strings.Repeat("=", len(heading)))
				fmt.Fprintf(w, "selected %v, expected: %s\n", sc.Selected, sc.Expect)
				renderReport(w, sc.Original, final, selection, meta, colorize)
				fmt.Fprintln(w)
			}
			if out.json {
				return writeJSON(cmd, results)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&only, "only", 0, "Run a single example by number")
	return cmd
}
