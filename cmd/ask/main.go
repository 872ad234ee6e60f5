// Command ask streams one answer from a knowledge base to the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/deepgram/kbquery/internal/services/credentials"
	"github.com/deepgram/kbquery/internal/services/query"
	"github.com/fatih/color"
)

func main() {
	var (
		kbID  = flag.String("kb", "", "Knowledge base id")
		list  = flag.Bool("list", false, "List knowledge bases and exit")
		plain = flag.Bool("no-color", false, "Disable colored output")
	)
	flag.Parse()

	config.LoadEnvFile()
	logger.Init()
	if *plain {
		color.NoColor = true
	}

	kbService, err := kb.NewService(credentials.NewService())
	if err != nil {
		color.Red("Invalid API URL: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *list {
		if err := listKnowledgeBases(ctx, kbService); err != nil {
			color.Red("Failed to list knowledge bases: %v", err)
			os.Exit(1)
		}
		return
	}

	question := strings.Join(flag.Args(), " ")
	if *kbID == "" || strings.TrimSpace(question) == "" {
		fmt.Fprintln(os.Stderr, "usage: ask -kb <id> <question>")
		os.Exit(2)
	}

	p := newPrinter(os.Stdout)
	controller := query.NewController(kbService, query.Options{OnUpdate: p.update})
	defer controller.Close()

	run, err := controller.Submit(ctx, query.Request{KnowledgeBaseID: *kbID, Question: question})
	if err != nil {
		color.Red("%v", err)
		os.Exit(2)
	}
	if err := watch(ctx, controller, run, time.Second); err != nil {
		controller.Cancel()
		color.Yellow("\nCancelled")
		os.Exit(130)
	}

	if controller.Snapshot().Outcome == query.OutcomeFailed {
		os.Exit(1)
	}
}

// watch waits for run to end, rechecking the stalled indicator every interval
func watch(ctx context.Context, controller *query.Controller, run *query.Run, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			controller.CheckStalled()
		}
	}
}

func listKnowledgeBases(ctx context.Context, kbService *kb.Service) error {
	list, err := kbService.ListKnowledgeBases(ctx, 1, 100)
	if err != nil {
		return err
	}
	for _, item := range list.Items {
		fmt.Printf("%s  %s", color.CyanString(item.ID), item.Name)
		if item.Status != "" {
			fmt.Printf(" (%s)", item.Status)
		}
		fmt.Println()
	}
	return nil
}
