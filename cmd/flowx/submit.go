package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/queue"
	"github.com/wgong/flowx/internal/task"
)

type submitOptions struct {
	priority string
	strategy string
	timeout  time.Duration
}

func newSubmitCmd(a *app) *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit <objective> [-- command args...]",
		Short: "Queue a task for the next parallel run",
		Long: `Queue a task in Redis. A later "flowx run --from-queue --parallel"
drains queued tasks into its benchmark, most urgent first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			priority, err := queue.ParsePriority(opts.priority)
			if err != nil {
				return err
			}

			objective := args[0]
			var command []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				command = args[dash:]
				if dash == 0 {
					objective = strings.Join(command, " ")
				}
			}

			client, _, err := a.redisStore(ctx)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("submit requires redis.enabled")
			}
			defer client.Close()

			t := task.NewTask(objective).
				WithDescription("Queued task: " + objective).
				WithPriority(priority).
				WithTimeout(a.cfg.Engine.TaskTimeout)
			if opts.strategy != "" {
				t.WithStrategy(task.StrategyType(opts.strategy))
			}
			if cmd.Flags().Changed("timeout") {
				t.WithTimeout(opts.timeout)
			}
			if len(command) > 0 {
				t.Parameters["command"] = command
			}

			q := queue.NewRedisQueue(client)
			if err := q.Enqueue(ctx, t); err != nil {
				return err
			}
			size, err := q.Size(ctx)
			if err != nil {
				return err
			}

			a.log.Info("Task queued", logger.Fields{
				"task_id":  t.ID,
				"priority": queue.PriorityString(priority),
				"queued":   size,
			})
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.priority, "priority", "normal", "queue priority (low, normal, high, critical)")
	f.StringVar(&opts.strategy, "strategy", "", "strategy tag for the task")
	f.DurationVar(&opts.timeout, "timeout", 0, "task timeout")
	return cmd
}
