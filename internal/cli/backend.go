package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/docload/dynamo"
	"github.com/jacentio/docload/loader"
	"github.com/jacentio/docload/memstore"
)

// conn is an open backend.
type conn struct {
	backend loader.Backend
	// dynamo and tables are set for the dynamodb backend only.
	dynamo *dynamo.Backend
	tables dynamo.TableClient
}

// connect opens the configured backend.
func connect(ctx context.Context, cfg Config, logger *slog.Logger) (*conn, error) {
	switch cfg.Backend {
	case BackendDynamoDB:
		return connectDynamo(ctx, cfg, logger)
	default:
		store := memstore.New()
		if cfg.Seed != "" {
			if err := seed(ctx, store, cfg.Seed); err != nil {
				return nil, err
			}
		}
		return &conn{backend: store}, nil
	}
}

func connectDynamo(ctx context.Context, cfg Config, logger *slog.Logger) (*conn, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	registry := dynamo.NewRegistry()
	for kind, table := range cfg.Tables {
		registry.Register(dynamo.Table{Kind: kind, Name: table})
	}
	dcfg := dynamo.DefaultConfig()
	if cfg.TablePrefix != "" {
		dcfg.TablePrefix = cfg.TablePrefix
	}
	dcfg.ConsistentRead = cfg.ConsistentRead
	dcfg.Logger = logger
	b := dynamo.NewWithRegistry(client, dcfg, registry)
	return &conn{backend: b, dynamo: b, tables: client}, nil
}

// seedDoc is one entry of a seed file.
type seedDoc struct {
	Key  *loader.Key     `json:"key"`
	Data loader.Document `json:"data"`
}

// seed saves the documents listed in a JSONC file.
func seed(ctx context.Context, b loader.Backend, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-controlled on purpose
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var docs []seedDoc
	if err := parseJSONC(data, &docs); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	payloads := make([]loader.Payload, 0, len(docs))
	for _, d := range docs {
		if d.Key == nil {
			return fmt.Errorf("seed %s: entry without key", path)
		}
		payloads = append(payloads, loader.Payload{Key: d.Key, Data: d.Data})
	}
	return loader.New(b, loader.DefaultConfig()).Save(ctx, payloads...)
}
