package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"repomind/internal/config"
)

var (
	cfgFile     string
	flagVerbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "repomind",
	Short: "Chat with any GitHub repository",
	Long: `Repomind analyzes a GitHub repository through the REST API, indexes its
code as embeddings in a local vector store, and answers questions about it
with retrieval-augmented generation.

Run without arguments to start the interactive interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

// PersistentPreRunE compares against rootCmd, so assigning it inside the
// rootCmd literal would be an initialization cycle.
func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// The interactive interface owns the terminal; console logs would
		// corrupt its alt screen.
		if cmd != rootCmd {
			zcfg := zap.NewProductionConfig()
			zcfg.Encoding = "console"
			zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			if flagVerbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if errors.Is(err, config.ErrMissingKey) {
			// No embedding key in the environment. Runs continue on the
			// offline hash provider: deterministic token-hash vectors,
			// weaker than real embeddings but fully local.
			viper.Set("embedding_provider", "hash")
			cfg, err = config.Load()
			if err == nil && logger != nil {
				logger.Warn("no embedding API key found, using offline hash embeddings")
			}
		}
		return err
	}
}

// Execute runs the command tree. Errors are reported by main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.repomind/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("db", "", "index database path (default <data-dir>/index.db)")
	rootCmd.PersistentFlags().String("data-dir", "", "state directory (default ~/.repomind)")
	rootCmd.PersistentFlags().String("model", "", "generation model (claude model name, or ollama:<name>)")
	rootCmd.PersistentFlags().String("embedding-provider", "", "embedding provider: openai, ollama or hash")
	rootCmd.PersistentFlags().String("ollama", "", "ollama base URL")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("chat_model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("embedding_provider", rootCmd.PersistentFlags().Lookup("embedding-provider"))
	viper.BindPFlag("ollama_url", rootCmd.PersistentFlags().Lookup("ollama"))
}

// initConfig wires viper before any command runs: explicit config file or
// ~/.repomind/config.yaml, REPOMIND_* environment, then defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.DefaultDataDir())
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("REPOMIND")
	viper.AutomaticEnv()
	config.SetDefaults()

	if err := viper.ReadInConfig(); err == nil && flagVerbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
