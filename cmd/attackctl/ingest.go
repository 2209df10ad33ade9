package main

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shiran1989/magshimim-cyber-homework/internal/migrations"
	"github.com/shiran1989/magshimim-cyber-homework/internal/queue"
	"github.com/shiran1989/magshimim-cyber-homework/internal/timing"
	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/leaselock"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/mitre"
	pgstore "github.com/shiran1989/magshimim-cyber-homework/pkg/store/pgx"
)

func newIngestCmd() *cobra.Command {
	var (
		file     string
		viaQueue bool
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Refresh the catalog from MITRE ATT&CK or a local STIX bundle",
		Long: `Downloads every enterprise attack-pattern bundle from the mitre/cti repository,
or reads --file, and replaces the stored catalog. With --queue the request is
handed to a worker instead of running here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := queue.SourceGitHub
			if file != "" {
				source = queue.SourceFile
			}
			msg, err := queue.NewIngestMsg(source, file, "attackctl")
			if err != nil {
				return err
			}

			if viaQueue {
				conn, err := queue.Init()
				if err != nil {
					return err
				}
				defer conn.Close()
				ch, err := conn.Channel()
				if err != nil {
					return fmt.Errorf("failed to open channel: %w", err)
				}
				defer ch.Close()
				if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
					return err
				}
				if err := queue.PublishIngest(ch, msg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg.CorrelationID)
				return nil
			}

			ctx := cmd.Context()
			databaseURL := util.GetEnv("DATABASE_URL")
			if err := migrations.Up(databaseURL); err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, databaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			locks := leaselock.New(pool)
			if holder, held, err := locks.Holder(ctx, leaselock.IngestKey); err != nil {
				return err
			} else if held && !wait {
				logger.Warn("Another ingestion is running, use --wait to queue behind it", "owner", holder.Owner, "expires_at", holder.ExpiresAt)
				return nil
			}

			processor := &queue.IngestProcessor{
				Store: pgstore.NewPatternDBStorage(pool),
				Locks: locks,
				Runs:  timing.NewRecorder(pool),
				NewFetcher: func() mitre.Source {
					return mitre.NewFetcher(
						mitre.WithParallel(util.GetEnvInt("MITRE_PARALLEL_DOWNLOADS", mitre.DefaultParallel)),
						mitre.WithRate(util.GetEnvNumeric("MITRE_RATE_PER_SEC", mitre.DefaultRatePerSec)),
					)
				},
				LeaseOptions: leaselock.Options{Wait: wait, Owner: "attackctl"},
			}

			body, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := processor.ProcessIngestMessage(ctx, body); err != nil {
				return err
			}

			runs, err := timing.NewRecorder(pool).RecentRuns(ctx, 1)
			if err != nil {
				return err
			}
			if len(runs) > 0 {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "read a local STIX bundle instead of GitHub")
	cmd.Flags().BoolVar(&viaQueue, "queue", false, "publish the request for a worker and print its correlation id")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a running ingestion to finish instead of skipping")
	return cmd
}
