// Command dhtnode runs one DHT participant and exposes its routing table,
// peer store, and metrics for inspection. Grounded on the ambient CLI idiom
// studied from delida-xchain/cmd/utils/flags.go's urfave/cli app
// construction; the teacher itself ships no standalone command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/urfave/cli/v2"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/blobstore"
	"github.com/lbryio/go-dht/config"
	"github.com/lbryio/go-dht/dht"
	"github.com/lbryio/go-dht/internal/metrics"
)

func main() {
	app := cli.NewApp()
	app.Name = "dhtnode"
	app.Usage = "run and inspect a DHT participant"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
		&cli.StringFlag{Name: "node-id", Usage: "hex-encoded 48-byte node id; a fresh one is minted if omitted"},
		&cli.IntFlag{Name: "tcp-port", Usage: "TCP port advertised for blob exchange", Value: 3333},
		&cli.StringFlag{Name: "blob-db", Usage: "path to a goleveldb directory for the blob announce queue"},
		&cli.StringSliceFlag{Name: "bootstrap", Usage: "host:port of a bootstrap node, may be repeated"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("dhtnode: %v", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if hosts := c.StringSlice("bootstrap"); len(hosts) > 0 {
		cfg.BootstrapHosts = hosts
	}

	localID, err := localNodeID(c.String("node-id"))
	if err != nil {
		return err
	}

	var blobs *blobstore.Store
	if path := c.String("blob-db"); path != "" {
		blobs, err = blobstore.Open(path)
	} else {
		blobs = blobstore.New()
	}
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	node, err := dht.New(cfg, localID, c.Int("tcp-port"), blobs, nil, nil)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}
	if err := node.Start(); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer node.Stop()

	fmt.Println(color.GreenString("listening as %s on %s", localID, cfg.ListenAddress))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(cfg.BootstrapHosts) > 0 {
		joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
		err := node.Join(joinCtx)
		joinCancel()
		if err != nil {
			return fmt.Errorf("joining network: %w", err)
		}
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			printStatus(node)
		}
	}
}

func localNodeID(hex string) (bits.ID, error) {
	if hex == "" {
		return bits.Generate()
	}
	return bits.FromHex(hex)
}

func printStatus(node *dht.Node) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	metrics.Registry().Each(func(name string, m interface{}) {
		switch c := m.(type) {
		case gometrics.Counter:
			table.Append([]string{name, fmt.Sprintf("%d", c.Count())})
		}
	})
	table.Append([]string{"routing_table.count", fmt.Sprintf("%d", node.RoutingTableSize())})
	table.Render()
}
