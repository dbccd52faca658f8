package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/urfave/cli/v3"

	"github.com/jacentio/lattice/stream"
)

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run the DynamoDB stream sweeper as a Lambda function",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Usage: "parallel sweep partitions per collection", Sources: cli.EnvVars("LATTICE_SWEEP_WORKERS")},
			&cli.BoolFlag{Name: "all-removals", Usage: "also sweep after explicit deletes, not only TTL expiry", Sources: cli.EnvVars("LATTICE_SWEEP_ALL_REMOVALS")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime) error {
				if rt.backend.dynamo == nil {
					return errNeedsDynamo
				}
				if cmd.IsSet("workers") {
					rt.cfg.Sweep.Workers = int(cmd.Int("workers"))
				}
				if cmd.Bool("all-removals") {
					rt.cfg.Sweep.ExpiredOnly = false
				}

				handler := stream.NewHandler(rt.backend.dynamo, rt.catalog, stream.Config{
					Workers:     rt.cfg.Sweep.Workers,
					ExpiredOnly: rt.cfg.Sweep.ExpiredOnly,
				}, rt.logger)
				rt.logger.Info("starting sweeper", "workers", rt.cfg.Sweep.Workers, "expired_only", rt.cfg.Sweep.ExpiredOnly)
				lambda.StartWithOptions(handler.HandleRemoved, lambda.WithContext(ctx))
				return nil
			})
		},
	}
}
