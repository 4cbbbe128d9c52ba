// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the gqlgate command-line application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/gqlgate/pkg/config"
	"github.com/stacklok/gqlgate/pkg/logger"
	"github.com/stacklok/gqlgate/pkg/versions"
)

// NewRootCmd creates the root command for the gqlgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "gqlgate",
		DisableAutoGenTag: true,
		Short:             "gqlgate - OpenID Connect login gateway for a GraphQL API",
		Long: `gqlgate signs browser users in with an OpenID Connect provider and guards a
GraphQL API behind the resulting access tokens.

It keeps the tokens in HttpOnly cookies, refreshes them when they expire,
records every user it sees, and forwards authenticated requests to the
GraphQL endpoint.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		// Silence printing the usage on error
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig loads and validates the configuration named by --config and the environment.
func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath != "" {
		logger.Infof("Loading configuration from: %s", configPath)
	}

	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// newValidateCmd creates the validate command for checking configuration
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration from the --config file and the environment and check it
for missing or malformed settings without contacting the identity provider.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				logger.Errorf("Configuration validation failed: %v", err)
				return err
			}

			logger.Infof("✓ Configuration is valid")
			logger.Infof("  Environment: %s", cfg.Environment)
			logger.Infof("  Listen address: %s", cfg.ListenAddress)
			logger.Infof("  Issuer: %s", cfg.OIDC.Issuer)
			logger.Infof("  Session backend: %s", cfg.Session.Backend)
			logger.Infof("  User store: %s", cfg.Store.Driver)
			if cfg.GraphQL.Endpoint != "" {
				logger.Infof("  GraphQL endpoint: %s", cfg.GraphQL.Endpoint)
			}
			return nil
		},
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of gqlgate",
		Long:  `Display the version, git commit, build date and Go version of gqlgate.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			_, _ = fmt.Fprintf(out, "gqlgate %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "Commit: %s\n", info.Commit)
			_, _ = fmt.Fprintf(out, "Built: %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			_, _ = fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")

	return cmd
}
