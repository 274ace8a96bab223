// Command netbootd serves TFTP boot files out of FAT partitions inside raw
// disk images, dispatching each request by board serial number per a
// configured board map.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/netbootd/netbootd/boot"
	"github.com/netbootd/netbootd/config"
	"github.com/netbootd/netbootd/tftp"
)

func main() {
	app := &cli.App{
		Name:  "netbootd",
		Usage: "TFTP boot server for FAT partitions inside raw disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "board-map",
				Usage:    "path to the board map CSV (serial,image,partition,ip)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "UDP address to serve TFTP on",
				Value: ":69",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "netbootd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	boards, err := config.Load(c.String("board-map"))
	if err != nil {
		return fmt.Errorf("load board map: %w", err)
	}
	log.Info("netbootd: board map loaded", "boards", boards.Len())

	handler := boot.NewHandler(boards, log)
	defer handler.Close()

	server := tftp.NewServer(handler, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("netbootd: serving TFTP", "addr", c.String("listen"))
	return server.Serve(ctx, c.String("listen"))
}
