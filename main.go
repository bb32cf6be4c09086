// cvsdk is the operator command of the Commvault SDK. It lists Commcell
// collections, drives activity control and metrics reporting, browses VSA
// backups and serves the Commcell inventory as Prometheus metrics.
//
// Usage:
//
//	cvsdk --config config.yaml list storagepools
//	cvsdk activity disable data-management
//	cvsdk metrics wait upload --timeout 5m
//	cvsdk serve [--debug]
//
// Configuration is provided via YAML file specifying:
//   - Commcell connection (web service URL, auth token, retries, rate limit)
//   - Browse retry and metrics poll settings
//   - Server settings (host, port, metrics URI, scraping interval)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Commvault/cvpysdk-sub002/internal/logging"
	"github.com/Commvault/cvpysdk-sub002/internal/models"
	"github.com/Commvault/cvpysdk-sub002/internal/utils"
)

const (
	programName    = "cvsdk"
	programVersion = "1.0.0"
)

var (
	configFile string
	debug      bool
)

// validateConfig checks if the configuration file exists, loads it, and validates its contents.
func validateConfig(configPath string) (*models.Config, error) {
	if err := utils.CheckConfigFile(configPath); err != nil {
		return nil, err
	}
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging initializes the logging system with the configured log file.
// If debug mode is enabled, sets the log level to DEBUG for verbose output.
func setupLogging(logName string, debugMode bool) error {
	if err := logging.PrepareLogs(logName); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDebugLevel(debugMode)
	if debugMode {
		log.Debug("Debug mode enabled")
	}
	return nil
}

// openSession loads the configuration file and connects a session for one
// command.
func openSession() (*session, error) {
	cfg, err := validateConfig(configFile)
	if err != nil {
		return nil, err
	}
	imm, err := models.NewImmutableConfig(cfg)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"commcell": imm.WebServiceURL(),
		"token":    imm.MaskedAuthToken(),
	}).Debug("Opening Commcell session")
	return newSession(imm), nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Commvault Commcell client",
		Long:          "cvsdk talks to the Commvault web service: it lists collections, drives operations and exports inventory metrics",
		Version:       programVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetDebugLevel(debug)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug mode")

	rootCmd.AddCommand(
		newListCmd(),
		newActivityCmd(),
		newMetricsCmd(),
		newBrowseCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
