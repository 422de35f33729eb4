package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

const cellWidth = 48

type lineStatus string

const (
	statusUnchanged lineStatus = "unchanged"
	statusModified  lineStatus = "modified"
	statusReverted  lineStatus = "reverted"
)

type report struct {
	Script     models.Script             `json:"script"`
	Validation models.ValidationMetadata `json:"validation"`
}

func colorEnabled(cmd *cobra.Command, out *outputOptions) bool {
	if out.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statuses(original, final models.Script, meta models.ValidationMetadata) []lineStatus {
	reverted := make(map[int]bool, len(meta.RevertedChanges))
	for _, change := range meta.RevertedChanges {
		reverted[change.Index] = true
	}

	out := make([]lineStatus, len(final))
	for i, line := range final {
		switch {
		case reverted[i]:
			out[i] = statusReverted
		case i < len(original) && !line.Equal(original[i]):
			out[i] = statusModified
		default:
			out[i] = statusUnchanged
		}
	}
	return out
}

func paint(colorize bool, color text.Color, s string) string {
	if !colorize {
		return s
	}
	return color.Sprint(s)
}

// renderReport prints the verified script as a table followed by the validation summary.
func renderReport(w io.Writer, original, final models.Script, selected models.SelectionSet, meta models.ValidationMetadata, colorize bool) {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Sel", "Status", "Line", "Art direction"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, WidthMax: cellWidth},
		{Number: 5, WidthMax: cellWidth},
	})

	for i, status := range statuses(original, final, meta) {
		sel := ""
		if selected.Contains(i) {
			sel = "*"
		}
		label := string(status)
		switch status {
		case statusReverted:
			label = paint(colorize, text.FgRed, label)
		case statusModified:
			label = paint(colorize, text.FgGreen, label)
		}
		tw.AppendRow(table.Row{i, sel, label, final[i].Line, final[i].ArtDirection})
	}
	fmt.Fprintln(w, tw.Render())

	var b strings.Builder
	if meta.HadUnauthorizedChanges {
		b.WriteString(paint(colorize, text.FgRed, "unauthorized changes reverted: "+strconv.Itoa(len(meta.RevertedChanges))))
	} else {
		b.WriteString(paint(colorize, text.FgGreen, "no unauthorized changes"))
	}
	b.WriteString("\n")
	lengths := fmt.Sprintf("original %d, received %d", meta.OriginalLength, meta.ReceivedLength)
	if meta.HadLengthMismatch {
		b.WriteString(paint(colorize, text.FgYellow, "length mismatch fixed: "+lengths))
	} else {
		b.WriteString("lengths match: " + lengths)
	}
	b.WriteString("\n")
	if meta.Strategy != "" {
		fmt.Fprintf(&b, "decoded with: %s\n", meta.Strategy)
	}
	if meta.Error != "" {
		b.WriteString(paint(colorize, text.FgRed, "error: "+meta.Error))
		b.WriteString("\n")
	}
	for _, change := range meta.RevertedChanges {
		fmt.Fprintf(&b, "  [%d] attempted %q | %q\n", change.Index, change.Attempted.Line, change.Attempted.ArtDirection)
	}
	fmt.Fprint(w, b.String())
}

func writeReport(cmd *cobra.Command, out *outputOptions, original, final models.Script, selected models.SelectionSet, meta models.ValidationMetadata) error {
	if out.json {
		return writeJSON(cmd, report{Script: final, Validation: meta})
	}
	renderReport(cmd.OutOrStdout(), original, final, selected, meta, colorEnabled(cmd, out))
	return nil
}
