package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/caseflow/internal/sim"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a local simulated analysis server",
	Long: `Run an offline stand-in for the analysis server on the configured
port. It accepts uploads and sessions, and plays a scripted five-stage
analysis over the websocket, including a confirmation gate.

Point the client at it with:
  caseflow config set server.base_url http://127.0.0.1:8000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fail, _ := cmd.Flags().GetBool("fail")
		script := sim.DefaultScript()
		if fail {
			script = sim.FailingScript()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Sim.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: sim.NewServer(script, cfg.SimPace()).Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			printStep("simulator listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			printStep("shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("simulator error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	simCmd.Flags().Bool("fail", false, "play a failing scenario")
	rootCmd.AddCommand(simCmd)
}
