package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/newsletter/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool             `help:"Enable debug mode." env:"NEWSLETTER_DEBUG"`
		Version kong.VersionFlag `help:"Print version information and exit."`
		Config  kong.ConfigFlag  `help:"Path to a YAML configuration file." placeholder:"PATH"`

		Serve   commands.ServeCmd   `cmd:"" help:"Run the HTTP server"`
		Worker  commands.WorkerCmd  `cmd:"" help:"Run the delivery worker"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations and exit"`
		Token   commands.TokenCmd   `cmd:"" help:"Issue a bearer token for the admin API"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("newsletter"),
		kong.Description("Newsletter publishing and delivery service."),
		kong.Vars{
			"version": version,
		},
		kong.Configuration(commands.YAMLConfig),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
