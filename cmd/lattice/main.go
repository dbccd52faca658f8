// Command lattice serves and maintains a node hierarchy stored in MongoDB
// or DynamoDB, with cascading deletes enforced by the store rules.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jacentio/lattice/store"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "lattice:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "lattice",
		Usage: "Declarative rules and transactional mutations for document stores",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			serveCommand(),
			sweepCommand(),
			nodesCommand(),
		},
	}
}

// runtime carries what every command needs once configuration is resolved.
type runtime struct {
	cfg     Config
	logger  *slog.Logger
	backend *backend
	nodes   *store.Service
	catalog *store.Catalog
}

// withRuntime resolves configuration, opens the backend and builds the node
// service, runs fn and releases everything afterwards.
func withRuntime(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer flush()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}()

	nodes, catalog, err := newNodes(b.adapter, cfg, logger)
	if err != nil {
		return err
	}
	return fn(ctx, &runtime{cfg: cfg, logger: logger, backend: b, nodes: nodes, catalog: catalog})
}
