package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/internal/migrations"
	"github.com/shiran1989/magshimim-cyber-homework/internal/queue"
	"github.com/shiran1989/magshimim-cyber-homework/internal/storage"
	"github.com/shiran1989/magshimim-cyber-homework/internal/timing"
	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/leaselock"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger/console"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/mitre"
	pgstore "github.com/shiran1989/magshimim-cyber-homework/pkg/store/pgx"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvString("LOG_FORMAT", "text") == "json",
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// Init pgx client
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := migrations.Up(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	pgConn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	processor := &queue.IngestProcessor{
		Store: pgstore.NewPatternDBStorage(pgConn),
		Locks: leaselock.New(pgConn),
		Runs:  timing.NewRecorder(pgConn),
		NewFetcher: func() mitre.Source {
			return mitre.NewFetcher(
				mitre.WithParallel(util.GetEnvInt("MITRE_PARALLEL_DOWNLOADS", mitre.DefaultParallel)),
				mitre.WithRate(util.GetEnvNumeric("MITRE_RATE_PER_SEC", mitre.DefaultRatePerSec)),
			)
		},
		LeaseOptions: leaselock.Options{
			TTL:   util.GetEnvDuration("INGEST_LEASE_TTL", 5*time.Minute),
			Owner: hostname(),
		},
	}

	// Init s3 client. Archiving is optional.
	if util.GetEnv("AWS_BUCKET") != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		processor.Archive = storage.NewArchive(s3Client)
	} else {
		logger.Warn("AWS_BUCKET not set, ingested bundles are not archived")
	}

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.IngestQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// prefetch=1 keeps one ingestion per worker at a time
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			msgs, err := consumerCh.Consume(
				qName,
				fmt.Sprintf("%s_consumer", qName),
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages")

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.IngestQueue:
					processingErr = processor.ProcessIngestMessage(ctx, qm.msg.Body)
				default:
					processingErr = fmt.Errorf("no processor for queue %s", qm.queueName)
				}

				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return name
}
