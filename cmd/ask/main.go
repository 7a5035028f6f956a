package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/ad/docs-qa/internal/app"
	"github.com/ad/docs-qa/internal/pipeline"
)

var sampleQuestions = []string{
	"How do I set up tracing in LangSmith?",
	"What is the difference between online and offline evaluation?",
	"How can I use the Prompt Hub?",
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	showDocs := flag.Bool("show-docs", false, "print the retrieved documentation before each answer")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [question ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Bootstrap(ctx, *configPath, nil)
	if err != nil {
		var iu *pipeline.IndexUnavailableError
		if errors.As(err, &iu) {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Index unavailable: run the ingest command first."))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	questions := flag.Args()
	if len(questions) == 0 {
		questions = sampleQuestions
	}

	fmt.Println(headerStyle.Render("LangSmith Q&A Agent"))
	fmt.Println(mutedStyle.Render(fmt.Sprintf("%d chunks indexed with %s, answering with %s",
		rt.Index.Count(), rt.Manifest.EmbeddingModel, rt.Config.Provider.ChatModel)))

	failed := 0
	for i, question := range questions {
		fmt.Println()
		fmt.Println(headerStyle.Render(fmt.Sprintf("[%d/%d] %s", i+1, len(questions), question)))

		state, err := rt.Pipeline.Run(ctx, question)
		if err != nil {
			failed++
			fmt.Println(errorStyle.Render("error: ") + err.Error())
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if *showDocs {
			docs := state.Documents
			if strings.TrimSpace(docs) == "" {
				docs = "(no documentation retrieved)"
			}
			fmt.Println(mutedStyle.Render(docs))
		}
		fmt.Print(state.FormattedOutput)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
