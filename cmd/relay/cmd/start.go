// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	relay "github.com/openherd/relay"
	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/api"
	"github.com/openherd/relay/pkg/exchange"
	"github.com/openherd/relay/pkg/node"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/syncer"
)

const shutdownTimeout = 15 * time.Second

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a relay node",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			logger, err := newLogger(cmd, c.config.GetString(optionNameVerbosity))
			if err != nil {
				return err
			}

			o, err := c.nodeOptions()
			if err != nil {
				return err
			}

			logger.Infof("version: %v", relay.Version)

			r, err := node.NewRelay(logger, o)
			if err != nil {
				return err
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			// Shutdown
			done := make(chan error, 1)
			go func() {
				done <- r.Shutdown(ctx)
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case err := <-done:
				if err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}

			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}

func (c *command) setAllFlags(cmd *cobra.Command) {
	cmd.Flags().String(optionNameDataDir, c.defaultDataDir(), "data directory")
	cmd.Flags().String(optionNameStoreBackend, string(storage.BackendFile), "post storage backend, file or leveldb")
	cmd.Flags().String(optionNameAPIAddr, ":7070", "HTTP API listen address")
	cmd.Flags().Bool(optionNameDebugAPIEnable, false, "enable debug HTTP API")
	cmd.Flags().String(optionNameDebugAPIAddr, ":7071", "debug HTTP API listen address")
	cmd.Flags().StringSlice(optionNamePeers, nil, "peer base URL to synchronize with, can be repeated")
	cmd.Flags().String(optionNamePeersFile, "", "path to a YAML file with a list of peer base URLs")
	cmd.Flags().String(optionNameNickname, "OpenHerd Relay", "node nickname shown on the info page")
	cmd.Flags().String(optionNameOperator, "", "node operator shown on the info page")
	cmd.Flags().String(optionNameDevice, "server", "device class shown on the info page")
	cmd.Flags().Bool(optionNameInfoPage, true, "serve the plain text info page for unmatched requests")
	cmd.Flags().Int64(optionNameMaxInboxSize, api.DefaultMaxInboxSize, "maximal inbox request body size in bytes")
	cmd.Flags().Duration(optionNameInboxRate, 0, "time in which a client earns one inbox request, 0 disables inbox rate limiting")
	cmd.Flags().Int(optionNameInboxBurst, 10, "number of inbox requests a client can make at once")
	cmd.Flags().String(optionNamePeerPathPrefix, "", "path prefix of the exchange endpoints on peers, for example /_openherd")
	cmd.Flags().Duration(optionNamePeerTimeout, exchange.DefaultTimeout, "timeout of a single request to a peer")
	cmd.Flags().Int64(optionNameMaxResponseSize, exchange.DefaultMaxResponseSize, "maximal size of a peer response in bytes")
	cmd.Flags().Duration(optionNameSyncInterval, syncer.DefaultInterval, "time between sync rounds")
	cmd.Flags().Duration(optionNameSyncWarmupTime, 0, "time to wait before the first sync round")
	cmd.Flags().Int(optionNameSyncBatchSize, syncer.DefaultBatchSize, "number of posts pushed to a peer in one request")
	cmd.Flags().Duration(optionNameSyncBatchDelay, syncer.DefaultBatchDelay, "pause between pushed batches")
	cmd.Flags().Int(optionNameSyncPageSize, syncer.DefaultPageSize, "number of posts requested from a peer outbox in one request")
	cmd.Flags().Duration(optionNameSyncPageDelay, syncer.DefaultPageDelay, "pause between pulled pages")
	cmd.Flags().Int(optionNameSyncMaxPages, syncer.DefaultMaxPages, "maximal number of pages pulled from a peer in one round")
	cmd.Flags().Bool(optionNameTracingEnabled, false, "enable tracing")
	cmd.Flags().String(optionNameTracingEndpoint, "127.0.0.1:6831", "endpoint to send tracing data")
	cmd.Flags().String(optionNameTracingService, "relay", "service name identifier for tracing")
	cmd.Flags().String(optionNameVerbosity, "info", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
}

// nodeOptions builds the immutable node configuration from flags, the
// config file and the environment.
func (c *command) nodeOptions() (o node.Options, err error) {
	backend, err := storage.ParseBackend(c.config.GetString(optionNameStoreBackend))
	if err != nil {
		return o, err
	}

	peers := c.config.GetStringSlice(optionNamePeers)
	if path := c.config.GetString(optionNamePeersFile); path != "" {
		filePeers, err := addressbook.LoadPeersFile(afero.NewOsFs(), path)
		if err != nil {
			return o, err
		}
		peers = append(peers, filePeers...)
	}
	for _, p := range peers {
		if _, err := addressbook.NormalizePeer(p); err != nil {
			return o, err
		}
	}

	maxInboxSize := c.config.GetInt64(optionNameMaxInboxSize)
	if maxInboxSize <= 0 {
		return o, fmt.Errorf("%s must be positive", optionNameMaxInboxSize)
	}

	return node.Options{
		DataDir:        c.config.GetString(optionNameDataDir),
		StoreBackend:   backend,
		APIAddr:        c.config.GetString(optionNameAPIAddr),
		EnableDebugAPI: c.config.GetBool(optionNameDebugAPIEnable),
		DebugAPIAddr:   c.config.GetString(optionNameDebugAPIAddr),
		Peers:          peers,
		Identity: api.Identity{
			Nickname: c.config.GetString(optionNameNickname),
			Operator: c.config.GetString(optionNameOperator),
			Device:   c.config.GetString(optionNameDevice),
		},
		DisableInfoPage:   !c.config.GetBool(optionNameInfoPage),
		MaxInboxSize:      maxInboxSize,
		InboxRateInterval: c.config.GetDuration(optionNameInboxRate),
		InboxRateBurst:    c.config.GetInt(optionNameInboxBurst),
		PeerPathPrefix:    c.config.GetString(optionNamePeerPathPrefix),
		PeerTimeout:       c.config.GetDuration(optionNamePeerTimeout),
		MaxResponseSize:   c.config.GetInt64(optionNameMaxResponseSize),
		Sync: syncer.Options{
			Interval:   c.config.GetDuration(optionNameSyncInterval),
			WarmupTime: c.config.GetDuration(optionNameSyncWarmupTime),
			BatchSize:  c.config.GetInt(optionNameSyncBatchSize),
			BatchDelay: c.config.GetDuration(optionNameSyncBatchDelay),
			PageSize:   c.config.GetInt(optionNameSyncPageSize),
			PageDelay:  c.config.GetDuration(optionNameSyncPageDelay),
			MaxPages:   c.config.GetInt(optionNameSyncMaxPages),
		},
		TracingEnabled:     c.config.GetBool(optionNameTracingEnabled),
		TracingEndpoint:    c.config.GetString(optionNameTracingEndpoint),
		TracingServiceName: c.config.GetString(optionNameTracingService),
	}, nil
}
