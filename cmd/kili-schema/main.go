// Command kili-schema inspects the GraphQL schema of a backend endpoint:
// it dumps the schema document, validates query files against it, and
// manages the on-disk schema cache.
//
// Usage:
//
//	kili-schema [flags] dump
//	kili-schema [flags] validate <query-file> [...]
//	kili-schema [flags] purge
//
// The endpoint and API key come from KILI_API_ENDPOINT and KILI_API_KEY
// unless overridden by flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kili-technology/kili-python-sdk-sub002/config"
	"github.com/kili-technology/kili-python-sdk-sub002/graphql"
)

func main() {
	var (
		endpoint = flag.String("endpoint",
			getEnv("KILI_API_ENDPOINT", config.DefaultEndpoint),
			"GraphQL endpoint URL (env: KILI_API_ENDPOINT)")
		apiKey = flag.String("api-key",
			getEnv("KILI_API_KEY", ""),
			"API key (env: KILI_API_KEY)")
		cacheDir = flag.String("cache-dir",
			getEnv("KILI_SDK_CACHE_DIR", ""),
			"schema cache directory (env: KILI_SDK_CACHE_DIR)")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall command timeout")
		logLevel  = flag.String("log-level", "warn", "log level: debug, info, warn, error")
		logFormat = flag.String("log-format", "text", "log format: json, text")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] dump | validate <query-file> [...] | purge\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	cfg.Endpoint = *endpoint
	cfg.APIKey = *apiKey
	cfg.CacheDir = *cacheDir
	cfg.ClientName = config.ClientNameCLI
	cfg.EnableSchemaCaching = true

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, flag.Args()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "purge":
		cache, err := graphql.NewCache(cfg.CacheDir, logger)
		if err != nil {
			return err
		}
		cache.Invalidate()
		fmt.Fprintf(os.Stderr, "schema cache cleared: %s\n", cache.Root())
		return nil

	case "dump", "validate":
		client, err := graphql.NewClient(ctx, cfg, graphql.WithLogger(logger))
		if err != nil {
			return err
		}
		handle := client.Schema()
		if handle == nil {
			return fmt.Errorf("no schema available: backend version discovery failed for %s", cfg.Endpoint)
		}

		if args[0] == "dump" {
			sdl, err := os.ReadFile(handle.CachePath)
			if err != nil {
				return fmt.Errorf("read schema document: %w", err)
			}
			_, err = os.Stdout.Write(sdl)
			return err
		}

		if len(args) < 2 {
			return fmt.Errorf("validate: at least one query file required")
		}
		failed := 0
		for _, path := range args[1:] {
			query, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read query file: %w", err)
			}
			if err := client.ValidateQuery(string(query)); err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "OK   %s\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d query files rejected", failed, len(args)-1)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
