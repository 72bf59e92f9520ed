package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"pnldash/src/connectors"
	"pnldash/src/controller"
	"pnldash/src/pricing"
	"pnldash/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "pnldash CMD"
	app.Usage = "The pnldash command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		volumeCMD,
		scanCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the dashboard API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP API`,
	}
	volumeCMD = cli.Command{
		Name:      "volume",
		Usage:     "recompute the protocol-wide volume aggregate once",
		Action:    volumeAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "network", Value: connectors.NetworkMainnet},
		},
		Description: `One-shot volume recomputation, prints the result`,
	}
	scanCMD = cli.Command{
		Name:      "scan",
		Usage:     "run the raw log-scan for one trader",
		Action:    scanAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "address", Usage: "trader hex address"},
			cli.StringFlag{Name: "network", Value: connectors.NetworkMainnet},
			cli.Uint64Flag{Name: "blocks", Usage: "window size back from head"},
		},
		Description: `Debug dump of decoded log-scan candidates`,
	}
)

func loadEnv() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using environment")
	}
}

func newDashboard() *controller.Dashboard {
	return controller.NewDashboard(
		controller.GetConfig(),
		connectors.GetConfig(),
		pricing.GetConfig(),
	)
}

func serverAction(_ *cli.Context) error {
	loadEnv()
	logrus.Info("Starting dashboard API server")
	server.StartServer(server.GetConfig().Port)
	return nil
}

func volumeAction(c *cli.Context) error {
	loadEnv()
	network := c.String("network")
	logrus.WithField("network", network).Info("Recomputing protocol volume")

	entry, err := newDashboard().VolumeCache().Refresh(context.Background(), network)
	if err != nil {
		logrus.WithError(err).Error("volume recomputation failed")
		return err
	}
	fmt.Printf("network=%s volume_usd=%.2f refreshed_at=%s\n",
		network, entry.VolumeUsd, entry.LastRefreshed)
	return nil
}

func scanAction(c *cli.Context) error {
	loadEnv()
	address := c.String("address")
	if address == "" {
		return cli.NewExitError("--address is required", 1)
	}
	network := c.String("network")

	candidates, err := newDashboard().Scan(context.Background(), network, address, c.Uint64("blocks"))
	if err != nil {
		logrus.WithError(err).Error("scan failed")
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(candidates)
}
