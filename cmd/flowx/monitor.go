package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/monitoring"
)

func newMonitorCmd(a *app) *cobra.Command {
	var (
		duration time.Duration
		report   string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Sample this process tree and the host for a while and print the metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sampler := monitoring.NewSampler(
				monitoring.WithInterval(a.cfg.Monitoring.SamplingInterval),
				monitoring.WithCapacity(a.cfg.Monitoring.HistoryCapacity),
				monitoring.WithLogger(a.log),
			)
			sampler.Start()

			select {
			case <-time.After(duration):
			case <-ctx.Done():
			}

			metrics := sampler.Stop()
			a.log.Info("Sampling finished", logger.Fields{
				"samples":        len(sampler.Snapshots()),
				"execution_time": metrics.ExecutionTime,
				"peak_memory_mb": sampler.PeakMemoryMB(),
			})

			if report != "" {
				if err := sampler.SaveReport(report); err != nil {
					return err
				}
			}

			data, err := json.MarshalIndent(struct {
				Performance any `json:"performance"`
				Resources   any `json:"resources"`
			}{metrics, sampler.ResourceUsage()}, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode metrics: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to sample")
	cmd.Flags().StringVar(&report, "report", "", "write the detailed sampling report to this file")
	return cmd
}
