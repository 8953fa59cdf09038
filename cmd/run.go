package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stepflow/runner"
	"stepflow/runner/storage"
)

// Run executes the 'run' command and returns the process exit code: 0 when
// every step succeeded, the failing step's own exit code otherwise, 1 when
// the failing step was signaled or never launched.
func Run(configPath string) int {
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get current directory: %v", err)
	}

	dataDir := filepath.Join(cwd, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := storage.NewStorage(filepath.Join(dataDir, "stepflow.db"))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	r := runner.New()

	// Forward termination signals to the step that is currently running, so
	// killing the runner kills its child and the run halts there.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for sig := range sigChan {
			r.Interrupt(sig)
		}
	}()

	report, err := r.RunFile(configPath, runner.RunOptions{Storage: store})
	if report == nil {
		log.Fatalf("Run failed: %v", err)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Run failed:", err)
	}

	failed := ""
	if report.FailedIndex >= 0 {
		failed = " | Failed step: " + report.Results[report.FailedIndex].Name
	}
	fmt.Printf("\nRun ID: %d | Status: %s | Duration: %s%s\n",
		report.RunID, report.Outcome, report.Duration.Round(time.Millisecond), failed)

	return report.ExitCode()
}
