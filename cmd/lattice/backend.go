package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/lattice/dynamostore"
	"github.com/jacentio/lattice/mongostore"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/tree"
)

var errNeedsDynamo = errors.New("command requires the dynamo backend")

// backend is an opened document store. dynamo is set only for the DynamoDB
// backend, which also serves TTL expiry and the stream sweeper.
type backend struct {
	adapter store.Adapter
	dynamo  *dynamostore.Store
	close   func(context.Context) error
}

func openBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case backendMongo:
		ms, err := mongostore.Connect(ctx, cfg.Mongo.URI, mongostore.Config{Database: cfg.Mongo.Database})
		if err != nil {
			return nil, err
		}
		err = ms.EnsureCollections(ctx, map[string][]string{
			tree.DefaultCollection: {tree.ParentKey},
		})
		if err != nil {
			_ = ms.Close(ctx)
			return nil, err
		}
		logger.Info("connected to mongodb", "database", cfg.Mongo.Database)
		return &backend{adapter: ms, close: ms.Close}, nil

	case backendDynamo:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Dynamo.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Dynamo.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Dynamo.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Dynamo.Endpoint)
			}
		})

		dc := dynamostore.DefaultConfig()
		dc.TablePrefix = cfg.Dynamo.TablePrefix
		dc.ScanSegments = cfg.Dynamo.ScanSegments
		ds := dynamostore.New(client, dc)

		if cfg.Dynamo.EnsureTables {
			if err := ds.EnsureTables(ctx, client, cfg.Dynamo.TableWait, tree.DefaultCollection); err != nil {
				return nil, err
			}
		}
		logger.Info("using dynamodb", "region", awsCfg.Region, "table_prefix", cfg.Dynamo.TablePrefix)
		return &backend{
			adapter: ds,
			dynamo:  ds,
			close:   func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// newNodes builds the node service over adapter and registers it in a catalog.
func newNodes(adapter store.Adapter, cfg Config, logger *slog.Logger) (*store.Service, *store.Catalog, error) {
	svc, err := tree.NewService(adapter, tree.Options{
		ProtectRoots: cfg.ProtectRoots,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	catalog := store.NewCatalog()
	if err := catalog.Register(svc); err != nil {
		return nil, nil, err
	}
	return svc, catalog, nil
}
