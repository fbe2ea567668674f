package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/smhanov/agentpod/internal/config"
)

const version = "0.3.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Args).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand(args []string) *cli.Command {
	return &cli.Command{
		Name:    "agentpod",
		Usage:   "LLM, search and page extraction with cost tracking",
		Version: version,
		Flags:   config.GetFlags(args),
		Commands: []*cli.Command{
			{
				Name:      "invoke",
				Usage:     "send a prompt to the chat backend",
				ArgsUsage: "<prompt>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "system", Usage: "system prompt"},
					&cli.StringSliceFlag{Name: "image", Usage: "image URL to attach (repeatable)"},
					&cli.BoolFlag{Name: "list", Usage: "ask for a JSON list of strings and print one item per line"},
				},
				Action: runInvoke,
			},
			{
				Name:      "search",
				Usage:     "run a web search",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "fetch", Aliases: []string{"f"}, Usage: "extract the text of every result page"},
				},
				Action: runSearch,
			},
			{
				Name:      "contentize",
				Usage:     "print the readable text of a web page",
				ArgsUsage: "<url>",
				Action:    runContentize,
			},
			{
				Name:      "research",
				Usage:     "answer a question by iterating web searches",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "knowledge", Usage: "prior knowledge for a follow-up question"},
					&cli.BoolFlag{Name: "fetch", Aliases: []string{"f"}, Usage: "extract page text for every search result"},
					&cli.BoolFlag{Name: "show-knowledge", Usage: "print the final knowledge state"},
				},
				Action: runResearch,
			},
			{
				Name:   "config",
				Usage:  "print the resolved configuration",
				Action: runConfig,
			},
		},
	}
}
