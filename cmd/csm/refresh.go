package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/csmportal/internal/jobmon"
	"github.com/zulandar/csmportal/internal/workflow"
	"golang.org/x/term"
)

func newRefreshCmd() *cobra.Command {
	var (
		configPath string
		customerID string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Trigger a config refresh and follow it",
		Long: `Prompts for the access PIN, triggers the backend config refresh for a
customer and prints every phase until the job completes, errors or times out.
Interrupting stops monitoring only; the backend job keeps running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd, configPath, customerID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "csm.yaml", "path to portal config file")
	cmd.Flags().StringVar(&customerID, "customer", "", "customer ID to refresh (required)")
	cmd.MarkFlagRequired("customer")
	return cmd
}

// readPIN reads the PIN without echo when in is a terminal, otherwise from
// the first line of in.
func readPIN(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Access PIN: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read PIN: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	fmt.Fprintln(out)
	return strings.TrimSpace(line), nil
}

func runRefresh(cmd *cobra.Command, configPath, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("--customer is required")
	}
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	out := cmd.OutOrStdout()

	pin, err := readPIN(cmd.InOrStdin(), out)
	if err != nil {
		return err
	}
	if err := a.gate.Attempt(pin); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	job, err := a.monitor.Start(ctx, customerID, "")
	if err != nil {
		return fmt.Errorf("refresh %s: %s", customerID, workflow.Message(err))
	}
	updates, unsubscribe := job.Subscribe()
	defer unsubscribe()

	for {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, stopped monitoring. The refresh may still be running on the server.\n", sig)
			job.Cancel()
			<-job.Done()
			return nil
		case u, ok := <-updates:
			if !ok {
				final := job.Last()
				printUpdate(out, final)
				return job.Err()
			}
			if !u.State.Terminal() {
				printUpdate(out, u)
			}
		}
	}
}

func printUpdate(w io.Writer, u jobmon.Update) {
	line := fmt.Sprintf("[%5.1fs] %-10s %3.0f%%  %s", u.Elapsed.Seconds(), u.State, u.Progress*100, u.Message)
	if u.Warning != "" {
		line += "  (" + u.Warning + ")"
	}
	fmt.Fprintln(w, line)
}
