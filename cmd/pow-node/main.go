// Copyright 2026 The powchain Authors
// This file is part of the powchain library.
//
// The powchain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The powchain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the powchain library. If not, see <http://www.gnu.org/licenses/>.

// Command pow-node runs one peer of the proof-of-work network: a Chain
// Engine, an optional Miner, and an Overlay listener, wired up the way
// klaytn's cmd/kcn/main.go wires a consensus node -- a urfave/cli app
// parsing flags into a node.Config, an Action that also starts the
// metrics exporter, and a run loop torn down on SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/hashline/powchain/chain"
	"github.com/hashline/powchain/miner"
	"github.com/hashline/powchain/node"
)

var (
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "port the overlay listener binds",
		Value: node.DefaultPort,
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "directory holding the chain's LevelDB store",
		Value: "./data",
	}
	bootnodesFlag = &cli.StringSliceFlag{
		Name:  "bootnodes",
		Usage: "ws:// addresses of peers to connect to at startup",
	}
	minerAddressFlag = &cli.StringFlag{
		Name:  "miner-address",
		Usage: "if set, mine blocks and pay rewards to this address",
	}
	difficultyFlag = &cli.IntFlag{
		Name:  "difficulty",
		Usage: "leading zero hex characters required of a block hash",
		Value: chain.Difficulty,
	}
	maxTxnsFlag = &cli.IntFlag{
		Name:  "max-txns",
		Usage: "maximum mempool transactions drained per mined block",
		Value: 1000,
	}
	metricsPortFlag = &cli.IntFlag{
		Name:  "metrics-port",
		Usage: "port serving /metrics for Prometheus scraping, 0 to disable",
		Value: 9100,
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn, or error",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:  "pow-node",
		Usage: "run a proof-of-work peer-to-peer blockchain node",
		Flags: []cli.Flag{
			portFlag, dataDirFlag, bootnodesFlag, minerAddressFlag,
			difficultyFlag, maxTxnsFlag, metricsPortFlag, logLevelFlag,
		},
		Action: runNode,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("pow-node exited with error")
	}
}

func runNode(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String(logLevelFlag.Name))
	if err != nil {
		return errors.Wrap(err, "parse log level")
	}
	zerolog.SetGlobalLevel(level)

	store, err := chain.OpenStore(c.String(dataDirFlag.Name))
	if err != nil {
		return errors.Wrap(err, "open chain store")
	}
	defer store.Close()

	engine := chain.New(store)

	var signer miner.Signer
	minerAddr := c.String(minerAddressFlag.Name)
	if minerAddr != "" {
		signer = newDevSigner(minerAddr)
	}

	cfg := node.Config{
		Port:           c.Int(portFlag.Name),
		BootstrapPeers: c.StringSlice(bootnodesFlag.Name),
		MinerAddress:   minerAddr,
		Difficulty:     c.Int(difficultyFlag.Name),
		MaxTxns:        c.Int(maxTxnsFlag.Name),
	}
	n, err := node.New(cfg, engine, signer)
	if err != nil {
		return errors.Wrap(err, "construct node")
	}

	if port := c.Int(metricsPortFlag.Name); port != 0 {
		startMetricsExporter(port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return errors.Wrap(err, "start node")
	}
	log.Info().Int("port", cfg.Port).Str("datadir", c.String(dataDirFlag.Name)).Msg("pow-node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	cancel()
	return n.Stop(context.Background())
}
