package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ppiankov/devcheck/internal/logging"
	"github.com/ppiankov/devcheck/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const version = "v0.1.0"

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"verbose":        "output.verbose",
	"log-file":       "output.log_file",
	"timeout":        "browser.page_timeout",
	"browser-url":    "browser.control_url",
	"browser-bin":    "browser.bin",
	"insecure":       "http.insecure_tls",
	"respect-robots": "http.respect_robots",
	"concurrency":    "concurrency.workers",
}

// app carries state shared by every command of one invocation
type app struct {
	cfgFile string
	noCache bool

	cfg        *model.Config
	configUsed string
	logger     *zap.Logger
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetArgs(routeArgs(cmd, os.Args[1:]))
	return cmd.ExecuteContext(ctx)
}

// routeArgs makes an invocation carrying --type a check of its target even
// when the target is named like a subcommand ("devcheck --type sourcecode
// config" checks ./config). Positional arguments are moved behind "--" so
// that cobra does not resolve them as commands.
func routeArgs(root *cobra.Command, args []string) []string {
	typed := false
	for _, arg := range args {
		if arg == "--" {
			return args
		}
		if arg == "--type" || strings.HasPrefix(arg, "--type=") {
			typed = true
		}
	}
	if !typed {
		return args
	}

	var opts, targets []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) < 2 || arg[0] != '-' {
			targets = append(targets, arg)
			continue
		}
		opts = append(opts, arg)
		if takesValue(root, arg) && i+1 < len(args) {
			i++
			opts = append(opts, args[i])
		}
	}
	return append(append(opts, "--"), targets...)
}

// takesValue reports whether flag arg consumes the following argument
func takesValue(root *cobra.Command, arg string) bool {
	if strings.Contains(arg, "=") {
		return false
	}

	var f *pflag.Flag
	switch {
	case strings.HasPrefix(arg, "--"):
		name := arg[2:]
		if f = root.Flags().Lookup(name); f == nil {
			f = root.PersistentFlags().Lookup(name)
		}
	case len(arg) == 2:
		short := arg[1:]
		if f = root.Flags().ShorthandLookup(short); f == nil {
			f = root.PersistentFlags().ShorthandLookup(short)
		}
	}
	return f != nil && f.NoOptDefVal == ""
}

// NewRootCmd builds the devcheck command tree
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	check := &checkOptions{app: a}

	// rootCmd checks a single website or source tree
	rootCmd := &cobra.Command{
		Use:   "devcheck --type <website|sourcecode> <url|directory>",
		Short: "devcheck - detect development builds in production",
		Long: `devcheck inspects a deployed website or a local source tree for
signs that a development build was shipped.

A website is loaded in a headless browser (or fetched over plain HTTP with
--engine http); its console output, network responses, script bodies and
page state are matched against a list of development markers. A source tree
is checked for NODE_ENV=development in its .env file.

Exactly one verdict line is printed on stdout. Diagnostics go to stderr
with --verbose.

Example:
  devcheck --type website https://shop.example.com
  devcheck --type website https://shop.example.com --engine http --json report.json
  devcheck --type sourcecode ./my-app --watch`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
		RunE: check.run,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.devcheck/config.yaml)")
	pf.BoolP("verbose", "v", false, "verbose diagnostics on stderr")
	pf.String("log-file", "", "also write JSON diagnostics to this rotated log file")

	check.addFlags(rootCmd.Flags())

	rootCmd.AddCommand(
		newVersionCmd(),
		newBatchCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}

// versionCmd represents the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Display the version number of devcheck.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devcheck %s\n", version)
		},
	}
}

// load resolves the configuration and builds the logger.
// Hierarchy, highest first: flags, DEVCHECK_* env, config file, defaults.
func (a *app) load(cmd *cobra.Command) error {
	v, err := newViper(a.cfgFile)
	if err != nil {
		return err
	}
	a.configUsed = v.ConfigFileUsed()

	flags := cmd.Flags()
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if a.noCache {
		cfg.Cache.Enabled = false
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Options{
		Verbose: cfg.Output.Verbose,
		LogFile: cfg.Output.LogFile,
		Stderr:  cmd.ErrOrStderr(),
	})
	if a.configUsed != "" {
		a.logger.Debug("Using config file", zap.String("path", a.configUsed))
	}
	return nil
}

// newViper layers the config file and environment over the defaults
func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".devcheck"))
		v.SetConfigName("config")
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("DEVCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// addNoCacheFlag registers --no-cache on fs
func (a *app) addNoCacheFlag(fs *pflag.FlagSet) {
	fs.BoolVar(&a.noCache, "no-cache", false, "disable the script body cache (force fresh fetch)")
}
