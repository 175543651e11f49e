// unmaild is the Unmail background daemon: it scans mailboxes for
// subscription headers and executes unsubscribe jobs from a durable queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tise-genene/Unmail/internal/app"
	"github.com/tise-genene/Unmail/internal/config"
	"github.com/tise-genene/Unmail/internal/queue"
	"github.com/tise-genene/Unmail/internal/store"
)

var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "unmaild",
	Short: "Unmail subscription scanner and unsubscriber",
	Long:  "Detects mailing-list subscriptions from standards-defined headers and executes unsubscribe actions through a durable job queue.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		log := newLogger(cfg.Logger.Level)

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Str("version", version).Msg("starting unmaild")
		return a.Run(ctx)
	},
}

var scanUser string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Enqueue a mailbox scan for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(ctx context.Context, svc *queue.Service) error {
			jobID, err := svc.EnqueueScan(ctx, scanUser)
			if err != nil {
				return err
			}
			fmt.Println(jobID)
			return nil
		})
	},
}

var (
	unsubUser          string
	unsubSubscriptions []string
)

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Enqueue unsubscribe jobs for subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(ctx context.Context, svc *queue.Service) error {
			n, err := svc.EnqueueUnsubscribe(ctx, unsubUser, unsubSubscriptions)
			if err != nil {
				return err
			}
			fmt.Printf("%d enqueued\n", n)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

// withQueue opens the shared job table and hands a queue service to fn. The
// daemon picks the enqueued work up from the same database.
func withQueue(fn func(ctx context.Context, svc *queue.Service) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logger.Level)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, queue.NewService(st, app.QueueOptions(cfg), log))
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Path to the config file")

	scanCmd.Flags().StringVar(&scanUser, "user", "", "User id to scan")
	scanCmd.MarkFlagRequired("user")

	unsubscribeCmd.Flags().StringVar(&unsubUser, "user", "", "User id owning the subscriptions")
	unsubscribeCmd.Flags().StringSliceVar(&unsubSubscriptions, "subscription", nil, "Subscription id to unsubscribe (repeatable)")
	unsubscribeCmd.MarkFlagRequired("user")
	unsubscribeCmd.MarkFlagRequired("subscription")

	rootCmd.AddCommand(runCmd, scanCmd, unsubscribeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
