package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fixlog/archive"
	"fixlog/config"
	"fixlog/domain/fix"
	"fixlog/index"
	"fixlog/infra/agent"
	"fixlog/infra/journal"
	"fixlog/infra/kafka"
	"fixlog/jobs/broadcaster"
	"fixlog/logger"
	"fixlog/replay"
	"fixlog/session"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "FIX gateway persistence and replay core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.AddCommand(runCmd(), scanCmd(), resetCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the recording, indexing and replay agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			defer log.Sync()
			errSink := func(err error) { log.Error("pipeline error", zap.Error(err)) }

			if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
				return err
			}
			jnl, err := journal.New(cfg.LogDir, log)
			if err != nil {
				return err
			}
			catalog, err := archive.OpenCatalog(cfg.CatalogDir)
			if err != nil {
				return err
			}
			defer catalog.Close()
			jnl.AddListener(catalog)

			contexts, err := session.OpenContexts(cfg.ContextsFilePath(), cfg.ContextsFileSize, errSink, log)
			if err != nil {
				return err
			}
			defer contexts.Close()

			replayIndex, err := index.NewReplayIndex(
				cfg.LogDir, cfg.OutboundStreamID, cfg.IndexFileSize,
				cfg.CacheNumSets, cfg.CacheSetSize, cfg.PositionsFileSize, errSink)
			if err != nil {
				return err
			}
			sentSub, err := jnl.AddSubscription(cfg.OutboundStreamID)
			if err != nil {
				return err
			}
			completion := agent.NewCompletionPosition()
			indexer := index.NewIndexer(
				[]index.Index{replayIndex}, sentSub, jnl, completion, nil, errSink)
			indexerRunner := agent.NewRunner(indexer, nil, log)
			indexerRunner.Start()

			inboundSub, err := jnl.AddSubscription(cfg.InboundStreamID)
			if err != nil {
				return err
			}
			outbound, err := jnl.AddPublication(cfg.OutboundStreamID)
			if err != nil {
				return err
			}
			replayer := replay.NewReplayer(
				inboundSub, outbound,
				index.NewQuery(cfg.LogDir, cfg.OutboundStreamID, cfg.IndexFileSize),
				jnl, nil, errSink)
			replayerRunner := agent.NewRunner(replayer, nil, log)
			replayerRunner.Start()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if cfg.Kafka.Enabled {
				eventsSub, err := jnl.AddSubscription(cfg.OutboundStreamID)
				if err != nil {
					return err
				}
				b, err := broadcaster.New(eventsSub, cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
				if err != nil {
					return err
				}
				defer b.Close()
				b.Start(ctx)
			}

			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
					log.Warn("metrics listener stopped", zap.Error(err))
				}
			}()

			log.Info("gateway persistence core running",
				zap.String("log_dir", cfg.LogDir),
				zap.Int32("outbound_stream", cfg.OutboundStreamID))

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			<-sigs

			completion.Complete(nil)
			replayerRunner.Close()
			indexerRunner.Close()
			return nil
		},
	}
}

func scanCmd() *cobra.Command {
	var (
		received bool
		follow   bool
		export   bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Stream archived FIX messages to stdout or Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			defer log.Sync()

			jnl, err := journal.New(cfg.LogDir, log)
			if err != nil {
				return err
			}
			catalog, err := archive.OpenCatalog(cfg.CatalogDir)
			if err != nil {
				return err
			}
			defer catalog.Close()

			scanner := archive.NewScanner(jnl, catalog, cfg.OutboundStreamID, cfg.InboundStreamID, nil)
			direction := archive.Sent
			if received {
				direction = archive.Received
			}

			var consumer archive.FixMessageConsumer
			if export {
				producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ExportTopic)
				defer producer.Close()
				consumer = archive.NewKafkaExporter(cmd.Context(), producer)
			} else {
				consumer = archive.FixMessageConsumerFunc(
					func(env fix.Envelope, frame journal.Frame) error {
						_, err := fmt.Printf("session=%d seq_index=%d status=%d %q\n",
							env.Session, env.SequenceIndex, env.Status, env.Body)
						return err
					})
			}
			return scanner.Scan(cmd.Context(), direction, consumer, follow)
		},
	}
	cmd.Flags().BoolVar(&received, "received", false, "scan the inbound stream instead of the outbound")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep following the active recording")
	cmd.Flags().BoolVar(&export, "export", false, "publish scanned messages to Kafka")
	return cmd
}

func resetCmd() *cobra.Command {
	var backup string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Back up and reinitialise the session contexts file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			defer log.Sync()
			errSink := func(err error) { log.Error("contexts error", zap.Error(err)) }

			contexts, err := session.OpenContexts(cfg.ContextsFilePath(), cfg.ContextsFileSize, errSink, log)
			if err != nil {
				return err
			}
			defer contexts.Close()
			if err := contexts.Reset(backup); err != nil {
				return err
			}
			log.Info("session contexts reset", zap.String("backup", backup))
			return nil
		},
	}
	cmd.Flags().StringVar(&backup, "backup", "", "write the previous contexts file here")
	return cmd
}
