// Package cli provides the depictio command-line interface: project config
// ingestion, filesystem scans against the metadata store, and the backend
// API server.
//
// Configuration is layered: an optional config file (--config or
// $HOME/.depictio.yaml), environment variables with the DEPICTIO prefix, and
// command-line flags, in increasing precedence.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/version"
)

// Exit codes for automation and CI integration.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitIO      = 2
	ExitPartial = 3
)

// cfgFile holds the path to the configuration file specified via flag.
var cfgFile string

// rootCmd is the base command for the depictio CLI.
var rootCmd = &cobra.Command{
	Use:   "depictio",
	Short: "depictio data-platform backend CLI",
	Long: `depictio organizes scientific datasets into projects, workflows, data
collections, runs and files; scans filesystems for new data; materializes
per-collection Delta tables; and serves interactive, join-aware queries to
dashboards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.depictio.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newProjectCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newDiagnosticsCmd())
}

// initConfig reads the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".depictio")
	}

	viper.SetEnvPrefix("DEPICTIO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		common.Logger.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}

	if level, err := logrus.ParseLevel(viper.GetString("log_level")); err == nil {
		common.Logger.SetLevel(level)
	}
	if viper.GetString("log_format") == "json" {
		common.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// exitCodeError carries a CLI exit code alongside the error.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

// withExitCode wraps an error with an explicit exit code.
func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

// exitCodeFor maps an error to the CLI exit code table.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if coded, ok := err.(*exitCodeError); ok {
		return coded.code
	}
	switch common.KindOf(err) {
	case common.ErrConfigInvalid, common.ErrNotFound, common.ErrDCNotFound:
		return ExitConfig
	case common.ErrIO, common.ErrScanIO:
		return ExitIO
	default:
		return ExitConfig
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	return ExitOK
}

// newVersionCmd reports the binary's build information.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.GetBuildInfo()
			fmt.Printf("depictio %s (%s, %s)\n", version.Version, info.GoVersion, info.MainModule)
		},
	}
}
