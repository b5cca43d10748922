// Package cli implements the opstream command line.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/opstream/internal/cliconfig"
	"github.com/bft-labs/opstream/pkg/log"
	"github.com/bft-labs/opstream/pkg/opstream"
)

const longHelp = `
Follow the op stream of a collaborative document.

opstream connects to the ordering service, catches up from delta storage,
and prints every sequenced op in order. Ops can be archived to a local
SQLite database and replayed from it later.

Configure via file ($HOME/.opstream/config.toml or YAML), OPSTREAM_* env, or flags.
`

var exampleUsage = strings.TrimSpace(`
  opstream follow --tenant fluid --document notes --storage-url http://localhost:7071 --tenant-key <key>
  opstream follow --config ./opstream.yaml --archive notes.db --checkpoint notes.json
  opstream replay --archive notes.db --tenant fluid --document notes --from 100
`)

// Version returns the module version the binary was built from.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

type rootOptions struct {
	cfg     cliconfig.Config
	cfgPath string
}

// NewRootCommand builds the opstream command tree. Logs go to stderr.
func NewRootCommand(stderr io.Writer) *cobra.Command {
	o := &rootOptions{cfg: cliconfig.DefaultConfig()}
	zl := log.NewConsoleLogger(stderr)

	root := &cobra.Command{
		Use:           "opstream",
		Short:         "Follow the op stream of a collaborative document",
		Long:          strings.TrimSpace(longHelp),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", Version(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&o.cfgPath, "config", "", "path to config file (default: $HOME/.opstream/config.toml)")
	f.StringVar(&o.cfg.ServiceURL, "service-url", o.cfg.ServiceURL, "ordering service websocket URL")
	f.StringVar(&o.cfg.StorageURL, "storage-url", o.cfg.StorageURL, "delta storage base URL")
	f.StringVar(&o.cfg.TenantID, "tenant", "", "tenant id")
	f.StringVar(&o.cfg.DocumentID, "document", "", "document id")
	f.StringVar(&o.cfg.TenantKey, "tenant-key", o.cfg.TenantKey, "tenant key used to sign access tokens")
	f.StringVar(&o.cfg.UserID, "user", "", "user id put in access tokens (random when empty)")
	f.StringVar(&o.cfg.Mode, "mode", o.cfg.Mode, "connection mode: read or write")
	f.StringVar(&o.cfg.ClientType, "client-type", o.cfg.ClientType, "client type reported to the service")
	f.BoolVar(&o.cfg.DisableReconnect, "no-reconnect", false, "exit when the connection is lost")
	f.DurationVar(&o.cfg.InitialReconnectDelay, "reconnect-delay", o.cfg.InitialReconnectDelay, "initial reconnect delay")
	f.DurationVar(&o.cfg.MaxReconnectDelay, "max-reconnect-delay", o.cfg.MaxReconnectDelay, "maximum reconnect delay")
	f.DurationVar(&o.cfg.NoOpDelay, "noop-delay", o.cfg.NoOpDelay, "delay before acknowledging processed ops")
	f.DurationVar(&o.cfg.HTTPTimeout, "timeout", o.cfg.HTTPTimeout, "delta storage HTTP timeout")
	f.IntVar(&o.cfg.FetchBatchSize, "batch-size", o.cfg.FetchBatchSize, "ops requested from storage per call")
	f.StringVar(&o.cfg.ArchivePath, "archive", "", "SQLite archive of processed ops")
	f.StringVar(&o.cfg.CheckpointPath, "checkpoint", "", "checkpoint file to resume from")
	f.StringVar(&o.cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&o.cfg.LogLevel, "log-level", o.cfg.LogLevel, "log level: debug, info, warn, error")
	f.StringVarP(&o.cfg.Output, "output", "o", o.cfg.Output, "output format: text or json")

	root.AddCommand(
		newFollowCommand(o, zl),
		newReplayCommand(o, zl),
		newVersionCommand(),
	)
	return root
}

// load resolves the configuration: flags, then OPSTREAM_* env, then the
// config file, then defaults. It returns the config file used, if any.
func (o *rootOptions) load(cmd *cobra.Command) (string, error) {
	cfgFile := o.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&o.cfg, fc, changed); err != nil {
			return "", err
		}
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(&o.cfg, changed); err != nil {
		return "", err
	}
	if err := setLogLevel(o.cfg.LogLevel); err != nil {
		return "", err
	}
	return cfgFile, nil
}

// setLogLevel applies level process wide, so reloads reach every logger.
func setLogLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func streamConfig(c cliconfig.Config) opstream.Config {
	return opstream.Config{
		ServiceURL:            c.ServiceURL,
		StorageURL:            c.StorageURL,
		TenantID:              c.TenantID,
		DocumentID:            c.DocumentID,
		TenantKey:             c.TenantKey,
		UserID:                c.UserID,
		Mode:                  opstream.ConnectionMode(c.Mode),
		ClientType:            c.ClientType,
		DisableReconnect:      c.DisableReconnect,
		InitialReconnectDelay: c.InitialReconnectDelay,
		MaxReconnectDelay:     c.MaxReconnectDelay,
		FetchBatchSize:        c.FetchBatchSize,
		NoOpDelay:             c.NoOpDelay,
		HTTPTimeout:           c.HTTPTimeout,
		ArchivePath:           c.ArchivePath,
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the opstream version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "opstream %s %s/%s\n", Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
