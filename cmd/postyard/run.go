package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/controller"
	"github.com/zulandar/postyard/internal/engine"
	"github.com/zulandar/postyard/internal/events"
	"golang.org/x/term"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Post every pending row of the input CSV",
		Long: "Logs in (reusing the saved session when possible) and posts each pending row of the input CSV " +
			"with randomized delays. Ctrl-C stops after the current step; a second Ctrl-C aborts. " +
			"SIGUSR1 toggles pause.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "postyard.yaml", "path to Postyard config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use the dry-run platform instead of the configured one")
	return cmd
}

func runRun(cmd *cobra.Command, configPath string, dryRun bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dryRun {
		cfg.Platform = "dryrun"
	}

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	console := newConsole(out)
	ctrl := newController(svc, events.Multi(console, svc.sink()), out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Start(ctx, cfg); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	pauseCh := notifyPause()
	defer stopPause(pauseCh)

	codes := newCodeReader(cmd.InOrStdin())
	stopping := false
	for {
		select {
		case <-ctrl.Done():
			res, runErr := ctrl.Wait()
			printSummary(out, ctrl.Snapshot(), res)
			return runErr
		case sig := <-sigCh:
			if stopping {
				fmt.Fprintf(out, "\nReceived %s again, aborting...\n", sig)
				cancel()
				continue
			}
			stopping = true
			fmt.Fprintf(out, "\nReceived %s, stopping after the current step...\n", sig)
			if err := ctrl.Stop(); err != nil && !errors.Is(err, controller.ErrInvalidTransition) {
				fmt.Fprintf(out, "Stop: %v\n", err)
			}
		case <-pauseCh:
			togglePause(out, ctrl)
		case i := <-console.interrupts:
			go promptCode(codes, out, ctrl, i)
		}
	}
}

func togglePause(out io.Writer, ctrl *controller.Controller) {
	var err error
	if ctrl.State() == controller.StatePaused {
		err = ctrl.Resume()
	} else {
		err = ctrl.Pause()
	}
	if err != nil {
		fmt.Fprintf(out, "Pause toggle ignored in state %s\n", ctrl.State())
	}
}

// promptCode reads a verification code and hands it to the
// controller. Terminal input is read without echo.
func promptCode(codes *codeReader, out io.Writer, ctrl *controller.Controller, i events.Interrupt) {
	label := "Two-factor"
	resolve := ctrl.ResolveTwoFactor
	if i.Kind == events.InterruptChallenge {
		label = "Challenge"
		resolve = ctrl.ResolveChallenge
	}
	fmt.Fprintf(out, "%s code for %s: ", label, i.Username)
	code, err := codes.read()
	fmt.Fprintln(out)
	if err != nil {
		fmt.Fprintf(out, "Reading code: %v\n", err)
		return
	}
	if err := resolve(code); err != nil {
		fmt.Fprintf(out, "Code not accepted: %v\n", err)
	}
}

// codeReader reads verification codes from stdin for the whole run. Piped
// input is buffered once so codes queued after the first are kept.
type codeReader struct {
	mu  sync.Mutex
	in  io.Reader
	buf *bufio.Reader
}

func newCodeReader(in io.Reader) *codeReader {
	return &codeReader{in: in, buf: bufio.NewReader(in)}
}

func (r *codeReader) read() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := r.buf.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printSummary(out io.Writer, snap controller.Snapshot, res engine.Result) {
	fmt.Fprintf(out, "\n%s\n", snap.Status)
	if res.NothingToDo {
		return
	}
	fmt.Fprintf(out, "Posted %d, failed %d, skipped %d of %d\n", res.Posted, res.Failed, res.Skipped, res.Total)
	if snap.LogFile != "" {
		fmt.Fprintf(out, "Log: %s\n", snap.LogFile)
	}
}

// console prints status and progress lines and queues auth interrupts for
// the command loop. Log lines reach the terminal through the run log echo.
type console struct {
	mu         sync.Mutex
	out        io.Writer
	interrupts chan events.Interrupt
}

func newConsole(out io.Writer) *console {
	return &console{out: out, interrupts: make(chan events.Interrupt, 1)}
}

func (c *console) OnLog(events.Level, string) {}

func (c *console) OnStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "== %s\n", status)
}

func (c *console) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%d/%d]\n", current, total)
}

func (c *console) OnPreview(string, string) {}

func (c *console) OnAuthInterrupt(i events.Interrupt) {
	select {
	case c.interrupts <- i:
	default:
	}
}
