package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	EnvDBPath  = "SHERAF_DB_PATH"
	EnvDBName  = "SHERAF_DB_NAME"
	EnvVerbose = "SHERAF_VERBOSE"
)

type Config struct {
	// DBPath is the Bolt file to open; empty opens an in-memory database.
	DBPath  string
	DBName  string
	Verbose bool
}

// LoadConfig builds the configuration from the .env files (".env" when none
// is given; missing files are skipped), then the process environment, then
// the global flags at the start of args. It returns the remaining arguments.
//
// The environment files are read, not loaded: the process environment is
// left untouched and wins over them.
func LoadConfig(args []string, envFiles ...string) (Config, []string, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	dotenv := make(map[string]string)
	for _, fn := range envFiles {
		vals, err := godotenv.Read(fn)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return Config{}, nil, fmt.Errorf("%s: %w", fn, err)
		}
		for k, v := range vals {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}
	getenv := func(k string) string {
		if v, ok := os.LookupEnv(k); ok {
			return v
		}
		return dotenv[k]
	}

	cfg := Config{
		DBPath: getenv(EnvDBPath),
		DBName: getenv(EnvDBName),
	}
	if v := getenv(EnvVerbose); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, nil, fmt.Errorf("%s: %w", EnvVerbose, err)
		}
		cfg.Verbose = b
	}

	fl := flag.NewFlagSet("sheraf", flag.ContinueOnError)
	fl.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Bolt database `file` (in-memory when empty)")
	fl.StringVar(&cfg.DBName, "name", cfg.DBName, "database `name`")
	fl.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")
	if err := fl.Parse(args); err != nil {
		return Config{}, nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return cfg, fl.Args(), nil
}

// NewLogger returns a development logger on stderr when verbose, and a
// production logger otherwise.
func NewLogger(cfg Config) (*zap.Logger, error) {
	if cfg.Verbose {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stderr"}
		return z.Build()
	}
	return zap.NewProduction()
}
