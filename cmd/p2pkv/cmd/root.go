/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/open-overlay/p2pkv/bootstrap"
	"github.com/open-overlay/p2pkv/console"
	"github.com/open-overlay/p2pkv/overlay"
	"github.com/open-overlay/p2pkv/search"
	"github.com/open-overlay/p2pkv/stats"
	"github.com/open-overlay/p2pkv/wire"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is p2pkv's sole entry point: a single daemon with no
// subcommands, exported so alternate drivers could reuse the flags.
var RootCmd = &cobra.Command{
	Use:   "p2pkv",
	Short: "peer-to-peer key/value lookup overlay node",
	RunE:  run,
}

var (
	listenFlag    string
	neighborsFlag string
	kvFlag        string
	ttlFlag       int
	verboseFlag   bool
)

func init() {
	RootCmd.Flags().StringVar(&listenFlag, "listen", "127.0.0.1:5000", "this node's own ip:port")
	RootCmd.Flags().StringVar(&neighborsFlag, "neighbors", "", "path to a file of bootstrap neighbor ip:port, one per line")
	RootCmd.Flags().StringVar(&kvFlag, "kv", "", "path to a file of local \"key value\" records, one per line")
	RootCmd.Flags().IntVar(&ttlFlag, "ttl", 5, "default TTL for locally-initiated searches")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
}

// Execute is the main entry point for the CLI interface.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(_ *cobra.Command, _ []string) error {
	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	self, err := wire.ParseEndpoint(listenFlag)
	if err != nil {
		return err
	}

	var neighbors []wire.Endpoint
	if neighborsFlag != "" {
		if neighbors, err = bootstrap.LoadNeighbors(neighborsFlag); err != nil {
			return err
		}
	}

	var local map[string]string
	if kvFlag != "" {
		if local, err = bootstrap.LoadKeyValues(kvFlag); err != nil {
			return err
		}
	}

	node, err := overlay.New(overlay.Config{
		Listen:     self,
		DefaultTTL: ttlFlag,
		Local:      local,
		Neighbors:  neighbors,
	})
	if err != nil {
		return err
	}
	log.Infof("listening on %s with %d bootstrap neighbor(s)", node.Self(), len(neighbors))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := node.Start(ctx); err != nil {
			log.Errorf("accept loop exited: %v", err)
		}
	}()

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	consoleDone := make(chan struct{})
	go func() {
		console.Stdio(console.Backend{
			ListNeighbors: node.ListNeighbors,
			SendHello:     node.SendHello,
			StartSearch:   node.StartSearch,
			StatisticsSnapshot: func() map[wire.Mode]console.Snapshot {
				out := make(map[wire.Mode]console.Snapshot, 3)
				for mode, s := range node.StatisticsSnapshot() {
					out[mode] = statsSnapshotView(s)
				}
				return out
			},
			SetDefaultTTL: node.SetDefaultTTL,
			DefaultTTL:    node.DefaultTTL,
			Results:       func() <-chan search.Result { return node.Results() },
			QuitAll:       node.QuitAll,
			Self:          node.Self,
			LocalData:     node.LocalData,
		}).Run()
		close(consoleDone)
	}()

	select {
	case <-sigStop:
		log.Warning("graceful shutdown")
	case <-consoleDone:
	}
	node.QuitAll()
	return node.Stop()
}

func statsSnapshotView(s stats.Snapshot) console.Snapshot {
	return console.Snapshot{
		MessagesSeen: s.MessagesSeen,
		Samples:      s.Samples,
		Mean:         s.Mean,
		Stddev:       s.Stddev,
	}
}
