package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Corphon/AdScriptStudio/internal/config"
	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/prompts"
	"github.com/Corphon/AdScriptStudio/internal/refine"
	"github.com/Corphon/AdScriptStudio/internal/services"
)

func newEncodeCommand(out *outputOptions) *cobra.Command {
	var (
		scriptPath string
		selected   []int
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the marked-up script and rules sent to the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := loadScript(scriptPath)
			if err != nil {
				return err
			}
			annotated, rules := refine.Encode(original, models.NewSelectionSet(selected...))
			if out.json {
				return writeJSON(cmd, map[string]any{
					"annotated": annotated.Render(),
					"rules":     rules,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), annotated.Render())
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), rules)
			return nil
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "Script file (.json, .yaml or tuple list)")
	cmd.Flags().IntSliceVar(&selected, "select", nil, "Zero-based line indices the agent may modify")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func newReconcileCommand(out *outputOptions) *cobra.Command {
	var (
		scriptPath string
		outputPath string
		selected   []int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Validate a raw agent reply against the original script",
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := loadScript(scriptPath)
			if err != nil {
				return err
			}
			raw, err := readText(cmd.InOrStdin(), outputPath)
			if err != nil {
				return err
			}
			selection := models.NewSelectionSet(selected...)
			final, meta := refine.Reconcile(raw, original, selection)
			return writeReport(cmd, out, original, final, selection, meta)
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "Original script file")
	cmd.Flags().StringVar(&outputPath, "output", "-", "Raw agent reply, - for stdin")
	cmd.Flags().IntSliceVar(&selected, "select", nil, "Zero-based line indices the agent was allowed to modify")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func newRefineCommand(out *outputOptions) *cobra.Command {
	var (
		scriptPath  string
		selected    []int
		instruction string
		brief       models.AdBrief
		adLength    int
	)

	cmd := &cobra.Command{
		Use:         "refine",
		Short:       "Rewrite selected lines with the configured agent",
		Annotations: map[string]string{needsConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := loadScript(scriptPath)
			if err != nil {
				return err
			}

			cfg := config.GetCurrentConfig()
			llmService := services.NewLLMService(cfg, nil)
			if ready, state := llmService.GetProviderStatus(); !ready {
				return fmt.Errorf("agent not available: %s", state)
			}
			library, err := prompts.Load()
			if err != nil {
				return err
			}

			refiner := services.NewRefinementService(llmService, library, nil, nil, nil, nil, cfg.AgentTimeout())
			selection := models.NewSelectionSet(selected...)
			result, err := refiner.Refine(cmd.Context(), models.RefineRequest{
				SelectedSentences:      selection,
				ImprovementInstruction: instruction,
				CurrentScript:          original,
				ProductName:            brief.ProductName,
				TargetAudience:         brief.TargetAudience,
				KeySellingPoints:       brief.KeySellingPoints,
				Tone:                   brief.Tone,
				AdLength:               models.AdLength(adLength),
			})
			if err != nil {
				return err
			}
			return writeReport(cmd, out, original, result.Script, selection, result.Validation)
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "Script file to refine")
	cmd.Flags().IntSliceVar(&selected, "select", nil, "Zero-based line indices to rewrite")
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "What to change in the selected lines")
	cmd.Flags().StringVar(&brief.ProductName, "product", "", "Product name")
	cmd.Flags().StringVar(&brief.TargetAudience, "audience", "", "Target audience")
	cmd.Flags().StringVar(&brief.KeySellingPoints, "selling-points", "", "Key selling points")
	cmd.Flags().StringVar(&brief.Tone, "tone", "", "Tone of voice")
	cmd.Flags().IntVar(&adLength, "length", 30, "Ad length in seconds")
	_ = cmd.MarkFlagRequired("script")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if len(selected) == 0 {
			return errors.New("--select must name at least one line")
		}
		return nil
	}
	return cmd
}
