package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "llmx",
	Short: "llmx is a local chat client for LLM backends",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger once --log-level and co have been parsed
		initLogger()
	},
}

type logConfig struct {
	Level     string
	LogFormat string
	LogFile   string
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}

	err := setupLogger(&logConfig{
		Level:     logLevel,
		LogFormat: viper.GetString("log-format"),
		LogFile:   viper.GetString("log-file"),
	})
	cobra.CheckErr(err)
}

func setupLogger(config *logConfig) error {
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}

	return nil
}

func initConfig() error {
	viper.SetEnvPrefix("llmx")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.llmx")
	if xdgConfigPath, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(xdgConfigPath, "llmx"))
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file; keep going on flags and env alone
	} else if err != nil {
		return err
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return viper.BindPFlags(rootCmd.PersistentFlags())
}

// dataDir is where the database and blob cache live by default.
func dataDir() string {
	if dir := viper.GetString("data-dir"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".llmx")
}

func main() {
	_ = rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default ~/.llmx)")

	rootCmd.PersistentFlags().String("type", "ollama", "Connection type (openai, ollama)")
	rootCmd.PersistentFlags().String("host", "", "Model server base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key for the model server")
	rootCmd.PersistentFlags().String("model", "", "Model name")
	rootCmd.PersistentFlags().String("system-prompt", "", "Persona instruction prepended to every transcript")

	cobra.CheckErr(initConfig())

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newExportCommand())
}
