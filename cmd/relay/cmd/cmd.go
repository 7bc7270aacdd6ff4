// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openherd/relay/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	optionNameDataDir         = "data-dir"
	optionNameStoreBackend    = "store-backend"
	optionNameAPIAddr         = "api-addr"
	optionNameDebugAPIEnable  = "debug-api-enable"
	optionNameDebugAPIAddr    = "debug-api-addr"
	optionNamePeers           = "peer"
	optionNamePeersFile       = "peers-file"
	optionNameNickname        = "nickname"
	optionNameOperator        = "operator"
	optionNameDevice          = "device"
	optionNameInfoPage        = "info-page"
	optionNameMaxInboxSize    = "max-inbox-size"
	optionNameInboxRate       = "inbox-rate-interval"
	optionNameInboxBurst      = "inbox-rate-burst"
	optionNamePeerPathPrefix  = "peer-path-prefix"
	optionNamePeerTimeout     = "peer-timeout"
	optionNameMaxResponseSize = "max-response-size"
	optionNameSyncInterval    = "sync-interval"
	optionNameSyncWarmupTime  = "sync-warmup-time"
	optionNameSyncBatchSize   = "sync-batch-size"
	optionNameSyncBatchDelay  = "sync-batch-delay"
	optionNameSyncPageSize    = "sync-page-size"
	optionNameSyncPageDelay   = "sync-page-delay"
	optionNameSyncMaxPages    = "sync-max-pages"
	optionNameTracingEnabled  = "tracing-enable"
	optionNameTracingEndpoint = "tracing-endpoint"
	optionNameTracingService  = "tracing-service-name"
	optionNameVerbosity       = "verbosity"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root    *cobra.Command
	config  *viper.Viper
	cfgFile string
	homeDir string
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "relay",
			Short:         "OpenHerd relay node",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
		},
	}

	for _, o := range opts {
		o(c)
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	if err := c.initStartCmd(); err != nil {
		return nil, err
	}

	c.initPostsCmd()
	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.relay.yaml)")
}

func (c *command) initConfig() (err error) {
	config := viper.New()
	configName := ".relay"
	if c.cfgFile != "" {
		// Use config file from the flag.
		config.SetConfigFile(c.cfgFile)
	} else {
		// Search config in home directory with name ".relay" (without extension).
		config.AddConfigPath(c.homeDir)
		config.SetConfigName(configName)
	}

	// Environment
	config.SetEnvPrefix("relay")
	config.AutomaticEnv() // read in environment variables that match
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if c.homeDir != "" && c.cfgFile == "" {
		c.cfgFile = filepath.Join(c.homeDir, configName+".yaml")
	}

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return err
		}
	}
	c.config = config
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}

func (c *command) defaultDataDir() string {
	return filepath.Join(c.homeDir, ".relay")
}

func newLogger(cmd *cobra.Command, verbosity string) (logging.Logger, error) {
	var logger logging.Logger
	switch verbosity {
	case "0", "silent":
		logger = logging.New(io.Discard, 0)
	case "1", "error":
		logger = logging.New(cmd.OutOrStdout(), logrus.ErrorLevel)
	case "2", "warn":
		logger = logging.New(cmd.OutOrStdout(), logrus.WarnLevel)
	case "3", "info":
		logger = logging.New(cmd.OutOrStdout(), logrus.InfoLevel)
	case "4", "debug":
		logger = logging.New(cmd.OutOrStdout(), logrus.DebugLevel)
	case "5", "trace":
		logger = logging.New(cmd.OutOrStdout(), logrus.TraceLevel)
	default:
		return nil, fmt.Errorf("unknown verbosity level %q", verbosity)
	}
	return logger, nil
}
