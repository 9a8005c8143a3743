package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"backoffice-service/internal/redisclient"
	"backoffice-service/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const backfillLockTTL = 30 * time.Second

func countersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Inspect and repair identifier counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "peek [name]",
		Short: "Print the current value of a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounters(func(ctx context.Context, counters *service.CounterService, _ *env) error {
				value, err := counters.Peek(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s = %d\n", args[0], value)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "next [name]",
		Short: "Allocate and print the next identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounters(func(ctx context.Context, counters *service.CounterService, _ *env) error {
				ids := service.NewIdentifierService(counters, service.NewIdentifierFormatter(nil))
				id, value, err := ids.Allocate(ctx, args[0], false)
				if err != nil {
					return err
				}
				fmt.Printf("%s = %d (%s)\n", args[0], value, id)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset [name]",
		Short: "Set a counter back to 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounters(func(ctx context.Context, counters *service.CounterService, _ *env) error {
				if err := counters.Reset(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s reset\n", args[0])
				return nil
			})
		},
	})

	backfill := &cobra.Command{
		Use:   "backfill [name]",
		Short: "Set a counter to the highest id already stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noLock, _ := cmd.Flags().GetBool("no-lock")
			return withCounters(func(ctx context.Context, counters *service.CounterService, e *env) error {
				if !noLock {
					release, err := lockBackfill(ctx, e, args[0])
					if err != nil {
						return err
					}
					defer release()
				}
				value, err := counters.BackfillFromMax(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s = %d\n", args[0], value)
				return nil
			})
		},
	}
	backfill.Flags().Bool("no-lock", false, "Skip the Redis lock (single operator only)")
	cmd.AddCommand(backfill)

	return cmd
}

func withCounters(fn func(ctx context.Context, counters *service.CounterService, e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	return fn(ctx, service.NewCounterService(e.store, nil), e)
}

// lockBackfill stops two operators from backfilling the same counter at once
func lockBackfill(ctx context.Context, e *env, name string) (func(), error) {
	rc, err := redisclient.NewClient(e.cfg.Redis.Addr, e.cfg.Redis.Password, e.cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("backfill lock unavailable (use --no-lock to skip): %w", err)
	}

	key := "counter-backfill:" + name
	owner := uuid.New().String()
	ok, err := rc.AcquireLock(ctx, key, owner, backfillLockTTL)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to take backfill lock: %w", err)
	}
	if !ok {
		rc.Close()
		return nil, fmt.Errorf("another backfill of %s is in progress", name)
	}

	return func() {
		if err := rc.ReleaseLock(context.Background(), key, owner); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		rc.Close()
	}, nil
}
