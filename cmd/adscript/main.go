package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	_ "github.com/Corphon/AdScriptStudio/internal/llm/providers/anthropic"
	_ "github.com/Corphon/AdScriptStudio/internal/llm/providers/google"
	_ "github.com/Corphon/AdScriptStudio/internal/llm/providers/openai"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
