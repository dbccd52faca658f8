package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/tree"
)

func nodesCommand() *cli.Command {
	return &cli.Command{
		Name:  "nodes",
		Usage: "Manage nodes from the terminal",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a node",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "parent", Usage: "parent id; omit for a root"},
				},
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					parent, err := optionalID(cmd.String("parent"))
					if err != nil {
						return err
					}
					id, err := tree.Create(ctx, rt.nodes, cmd.String("name"), parent)
					if err != nil {
						return err
					}
					return printJSON(map[string]string{"id": id.Hex()})
				}),
			},
			{
				Name:      "get",
				Usage:     "Show a node",
				ArgsUsage: "<id>",
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					id, err := argID(cmd)
					if err != nil {
						return err
					}
					n, err := tree.Get(ctx, rt.nodes, id)
					if err != nil {
						return err
					}
					return printJSON(n)
				}),
			},
			{
				Name:  "list",
				Usage: "List the children of a node, or the roots",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Usage: "parent id; omit for roots"},
				},
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					parent, err := optionalID(cmd.String("parent"))
					if err != nil {
						return err
					}
					nodes, err := tree.Children(ctx, rt.nodes, parent)
					if err != nil {
						return err
					}
					return printJSON(nodes)
				}),
			},
			{
				Name:      "ancestors",
				Usage:     "List the ancestors of a node, nearest first",
				ArgsUsage: "<id>",
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					id, err := argID(cmd)
					if err != nil {
						return err
					}
					nodes, err := tree.Ancestors(ctx, rt.nodes, id)
					if err != nil {
						return err
					}
					return printJSON(nodes)
				}),
			},
			{
				Name:      "move",
				Usage:     "Move a node under another parent",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Usage: "new parent id; omit to make the node a root"},
				},
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					id, err := argID(cmd)
					if err != nil {
						return err
					}
					parent, err := optionalID(cmd.String("parent"))
					if err != nil {
						return err
					}
					return tree.Move(ctx, rt.nodes, id, parent)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a node and its descendants",
				ArgsUsage: "<id>",
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					id, err := argID(cmd)
					if err != nil {
						return err
					}
					res, err := rt.nodes.DeleteByID(ctx, id, nil)
					if err != nil {
						return err
					}
					return printJSON(map[string]int64{"delete_count": res.Deleted})
				}),
			},
			{
				Name:      "expire",
				Usage:     "Schedule a node for TTL removal (dynamo backend)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "in", Value: time.Hour, Usage: "delay before DynamoDB removes the node"},
				},
				Action: nodesAction(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					if rt.backend.dynamo == nil {
						return errNeedsDynamo
					}
					id, err := argID(cmd)
					if err != nil {
						return err
					}
					at := time.Now().Add(cmd.Duration("in"))
					if err := rt.backend.dynamo.Expire(ctx, rt.nodes.Name(), id, at); err != nil {
						return err
					}
					return printJSON(map[string]string{"id": id.Hex(), "expires_at": at.UTC().Format(time.RFC3339)})
				}),
			},
		},
	}
}

func nodesAction(fn func(ctx context.Context, cmd *cli.Command, rt *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime) error {
			return fn(ctx, cmd, rt)
		})
	}
}

func argID(cmd *cli.Command) (store.ID, error) {
	if cmd.Args().Len() != 1 {
		return store.NilID, errors.New("expected exactly one node id")
	}
	return store.ParseID(cmd.Args().First())
}

// optionalID parses s, mapping the empty string to nil.
func optionalID(s string) (*store.ID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := store.ParseID(s)
	if err != nil {
		return nil, fmt.Errorf("parent: %w", err)
	}
	return &id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
