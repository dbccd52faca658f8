package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	backendMongo  = "mongo"
	backendDynamo = "dynamo"
)

// Config is the resolved process configuration. Values come from defaults,
// then the YAML file, then flags and LATTICE_* environment variables.
type Config struct {
	Backend      string       `yaml:"backend"`
	Debug        bool         `yaml:"debug"`
	ProtectRoots bool         `yaml:"protect_roots"`
	Mongo        MongoConfig  `yaml:"mongo"`
	Dynamo       DynamoConfig `yaml:"dynamo"`
	HTTP         HTTPConfig   `yaml:"http"`
	Sweep        SweepConfig  `yaml:"sweep"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type DynamoConfig struct {
	Region       string        `yaml:"region"`
	Endpoint     string        `yaml:"endpoint"`
	TablePrefix  string        `yaml:"table_prefix"`
	ScanSegments int           `yaml:"scan_segments"`
	EnsureTables bool          `yaml:"ensure_tables"`
	TableWait    time.Duration `yaml:"table_wait"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	MaxLimit        int64         `yaml:"max_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SweepConfig struct {
	Workers     int  `yaml:"workers"`
	ExpiredOnly bool `yaml:"expired_only"`
}

func defaultConfig() Config {
	return Config{
		Backend:      backendMongo,
		ProtectRoots: true,
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017/?replicaSet=rs0",
			Database: "lattice",
		},
		Dynamo: DynamoConfig{
			ScanSegments: 1,
			TableWait:    2 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxLimit:        100,
			ShutdownTimeout: 10 * time.Second,
		},
		Sweep: SweepConfig{
			Workers:     4,
			ExpiredOnly: true,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path
// or a missing file yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case backendMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo backend requires a uri")
		}
	case backendDynamo:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, backendMongo, backendDynamo)
	}
	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep workers must be positive, got %d", c.Sweep.Workers)
	}
	return nil
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML config file", Sources: cli.EnvVars("LATTICE_CONFIG")},
		&cli.StringFlag{Name: "backend", Usage: "document store: mongo or dynamo", Sources: cli.EnvVars("LATTICE_BACKEND")},
		&cli.BoolFlag{Name: "debug", Usage: "verbose development logging", Sources: cli.EnvVars("LATTICE_DEBUG")},
		&cli.BoolFlag{Name: "protect-roots", Usage: "refuse to delete root nodes", Sources: cli.EnvVars("LATTICE_PROTECT_ROOTS")},
		&cli.StringFlag{Name: "mongo-uri", Usage: "MongoDB connection string (replica set)", Sources: cli.EnvVars("LATTICE_MONGO_URI")},
		&cli.StringFlag{Name: "mongo-database", Usage: "MongoDB database", Sources: cli.EnvVars("LATTICE_MONGO_DATABASE")},
		&cli.StringFlag{Name: "dynamo-region", Usage: "AWS region", Sources: cli.EnvVars("LATTICE_DYNAMO_REGION")},
		&cli.StringFlag{Name: "dynamo-endpoint", Usage: "DynamoDB endpoint override", Sources: cli.EnvVars("LATTICE_DYNAMO_ENDPOINT")},
		&cli.StringFlag{Name: "table-prefix", Usage: "DynamoDB table name prefix", Sources: cli.EnvVars("LATTICE_TABLE_PREFIX")},
		&cli.BoolFlag{Name: "ensure-tables", Usage: "create missing DynamoDB tables on start", Sources: cli.EnvVars("LATTICE_ENSURE_TABLES")},
	}
}

// resolveConfig loads the config file named by --config and applies every
// flag set on the command line or through the environment.
func resolveConfig(cmd *cli.Command) (Config, error) {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return Config{}, err
	}

	if cmd.IsSet("backend") {
		cfg.Backend = cmd.String("backend")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("protect-roots") {
		cfg.ProtectRoots = cmd.Bool("protect-roots")
	}
	if cmd.IsSet("mongo-uri") {
		cfg.Mongo.URI = cmd.String("mongo-uri")
	}
	if cmd.IsSet("mongo-database") {
		cfg.Mongo.Database = cmd.String("mongo-database")
	}
	if cmd.IsSet("dynamo-region") {
		cfg.Dynamo.Region = cmd.String("dynamo-region")
	}
	if cmd.IsSet("dynamo-endpoint") {
		cfg.Dynamo.Endpoint = cmd.String("dynamo-endpoint")
	}
	if cmd.IsSet("table-prefix") {
		cfg.Dynamo.TablePrefix = cmd.String("table-prefix")
	}
	if cmd.IsSet("ensure-tables") {
		cfg.Dynamo.EnsureTables = cmd.Bool("ensure-tables")
	}
	return cfg, cfg.validate()
}
