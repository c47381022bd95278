package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"factcheck-relay/internal/pipeline"
	"factcheck-relay/pkg/log"
	"factcheck-relay/pkg/relayclient"

	"github.com/spf13/cobra"
)

const resumeLatest = "latest"

func newAskCommand() *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Start an interactive fact-checking chat",
		Long: "Reads questions from stdin, one per line, and renders the answers as they arrive.\n" +
			"Type /quit or send EOF to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Client.BackendURL == "" {
				return errors.New("client.backend_url is not configured")
			}

			store, err := pipeline.NewSQLiteQueueStore(cfg.Client.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			client := relayclient.New(cfg.Client.RelayURL, cfg.Client.BackendURL, 10*time.Second)
			view := pipeline.NewTerminalView(cmd.OutOrStdout())
			p := pipeline.NewPipeline(client, store, view, pipeline.Options{
				PollInterval:  cfg.Client.PollInterval,
				TypingDelay:   cfg.Client.TypingDelay,
				StaleAfter:    cfg.Client.StaleAfter,
				SweepInterval: cfg.Client.SweepInterval,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cmd.Flags().Changed("resume") {
				go func() {
					id := resume
					if id == resumeLatest {
						id = ""
					}
					if _, err := p.Resume(ctx, id); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "resume:", err)
					}
				}()
			}
			go readQuestions(ctx, stop, cmd.InOrStdin(), cmd.ErrOrStderr(), p)

			return p.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "resume a session by id (without a value: the most recent one)")
	cmd.Flags().Lookup("resume").NoOptDefVal = resumeLatest
	return cmd
}

// readQuestions feeds stdin lines to the pipeline. On EOF it waits for the
// current answer to finish before stopping.
func readQuestions(ctx context.Context, stop context.CancelFunc, in io.Reader, errOut io.Writer, p *pipeline.Pipeline) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			stop()
			return
		}
		if _, err := p.Submit(ctx, line); err != nil {
			if errors.Is(err, pipeline.ErrBusy) {
				fmt.Fprintln(errOut, "still answering the previous question, please wait")
				continue
			}
			log.Warnw("提交问题失败", "error", err)
			fmt.Fprintln(errOut, "error:", err)
		}
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for p.State() != pipeline.StateIdle {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	stop()
}
