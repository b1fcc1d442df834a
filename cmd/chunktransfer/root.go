package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bitrise-io/go-chunktransfer/config"
	"github.com/bitrise-io/go-chunktransfer/transfer"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	settings = config.NewSettings()
	logger   = log.NewLogger()
)

var rootCmd = &cobra.Command{
	Use:   "chunktransfer",
	Short: "Upload and download large files in chunks",
	Long: `chunktransfer splits files into fixed size chunks and transfers them concurrently.

Every setting can be given as a flag, as a CHUNKTRANSFER_ prefixed environment
variable or in a YAML config file (default is $HOME/.chunktransfer.yaml).

Examples:
  chunktransfer upload 'build/**/*.ipa' report.pdf
  chunktransfer download 42 --output app.ipa
  chunktransfer delete 42`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chunktransfer.yaml)")
	flags.String("backend", "", "storage backend: http, blob or s3")
	flags.String("api-url", "", "base URL of the HTTP file service")
	flags.String("api-token", "", "bearer token of the HTTP file service")
	flags.String("bucket-url", "", "gocloud bucket URL of the blob backend, for example s3://bucket?region=us-east-1 or file:///tmp/chunks")
	flags.String("prefix", "", "object key prefix of the object storage backends")
	flags.String("s3-bucket", "", "bucket of the s3 backend")
	flags.String("s3-region", "", "region of the s3 backend")
	flags.String("s3-endpoint", "", "custom endpoint of the s3 backend")
	flags.String("s3-profile", "", "shared config profile of the s3 backend")
	flags.Int("concurrency", 0, "number of files transferred at once (default: number of CPUs)")
	flags.String("chunk-size", "", "chunk size of the object storage backends, for example 4MiB")
	flags.Bool("compress", false, "store chunks zstd compressed (object storage backends)")
	flags.Bool("cancel-siblings", false, "cancel the other chunks of a file when one of them fails")
	flags.Bool("verbose", false, "enable debug logging")
	flags.Bool("analytics", false, "send transfer analytics")

	for _, key := range []string{
		config.BackendKey, config.APIURLKey, config.APITokenKey, config.BucketURLKey, config.PrefixKey,
		config.S3BucketKey, config.S3RegionKey, config.S3EndpointKey, config.S3ProfileKey, config.ConcurrencyKey,
		config.ChunkSizeKey, config.CompressKey, config.CancelSiblingsKey, config.VerboseKey, config.AnalyticsKey,
	} {
		name := config.SettingName(key)
		if err := settings.BindPFlag(name, flags.Lookup(flagName(name))); err != nil {
			panic(err)
		}
	}
}

// flagName turns a settings name (s3_bucket) into its flag name (s3-bucket).
func flagName(setting string) string {
	return strings.ReplaceAll(setting, "_", "-")
}

func initConfig() error {
	if cfgFile != "" {
		settings.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Warnf("Could not find home directory: %s", err)
			return nil
		}
		settings.AddConfigPath(home)
		settings.SetConfigType("yaml")
		settings.SetConfigName(".chunktransfer")
	}

	if err := settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
		return nil
	}
	logger.Debugf("Using config file: %s", settings.ConfigFileUsed())

	return nil
}

// loadConfig resolves the configuration from flags, config file and environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv(config.NewRepository(env.NewRepository(), settings))
	if err != nil {
		return config.Config{}, err
	}
	logger.EnableDebugLog(cfg.Verbose)
	return cfg, nil
}

// newSession builds the configured client and a session around it. The returned
// cleanup closes the client when it holds resources.
func newSession(ctx context.Context, cfg config.Config, sink transfer.Sink) (*transfer.Session, func(), error) {
	client, err := config.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []transfer.Option{
		transfer.WithLogger(logger),
		transfer.WithConcurrencyCap(cfg.Concurrency),
		transfer.WithCancelSiblingsOnFailure(cfg.CancelSiblings),
	}
	if tracker := config.NewDefaultTracker(cfg, env.NewRepository(), logger); tracker != nil {
		opts = append(opts, transfer.WithAnalytics(tracker))
	}

	cleanup := func() {
		if closer, ok := client.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Warnf("Failed to close %s client: %s", cfg.Backend, err)
			}
		}
	}

	return transfer.NewSession(client, sink, opts...), cleanup, nil
}

// createContext returns a context that is cancelled on SIGINT and SIGTERM.
func createContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
