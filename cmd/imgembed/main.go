// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/imgembed"
	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/config"
	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/executor"
	"github.com/poiesic/imgembed/input"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "imgembed",
		Usage:     "Resolve image embedding models behind restrictive networks and embed image folders",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"IMGEMBED_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model identifier (namespace/name[@revision])",
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Never touch the network; the model must already be cached",
			},
			&cli.StringFlag{
				Name:  "mirror",
				Usage: "Hub mirror tried before the default host, e.g. https://hf-mirror.com",
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "Model cache directory",
			},
			&cli.StringFlag{
				Name:  "proxy",
				Usage: "HTTP(S) proxy for hub requests",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "resolve",
				Usage:  "Resolve the model and load it, downloading if needed",
				Action: resolveCommand,
			},
			{
				Name:      "embed",
				Usage:     "Embed the images in a folder and write JSON lines",
				ArgsUsage: "<folder>",
				Action:    embedCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "pattern",
						Aliases: []string{"p"},
						Usage:   "Glob pattern relative to the folder (repeatable); default is every image",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Maximum images per inference batch (default from config)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of images to embed (default from config)",
					},
					&cli.StringFlag{
						Name:  "store",
						Usage: "Vector store directory; repeated images are served from it",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write JSON lines to this file instead of stdout",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N images",
						Value: 50,
					},
				},
			},
			{
				Name:      "similar",
				Usage:     "List stored images most similar to a query image",
				ArgsUsage: "<image> [folder]",
				Action:    similarCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "store",
						Usage: "Vector store directory (default from config)",
					},
					&cli.StringSliceFlag{
						Name:    "pattern",
						Aliases: []string{"p"},
						Usage:   "Glob pattern relative to the folder (repeatable); default is every image",
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Minimum cosine similarity of a match",
						Value: 0,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of matches",
						Value: 10,
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Inspect and maintain the model cache",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List complete cache entries",
						Action: cacheListCommand,
					},
					{
						Name:      "evict",
						Usage:     "Remove a model from the cache",
						ArgsUsage: "<model>",
						Action:    cacheEvictCommand,
					},
					{
						Name:      "verify",
						Usage:     "Re-check sizes and SHA-256 digests of a cached model",
						ArgsUsage: "<model>",
						Action:    cacheVerifyCommand,
					},
					{
						Name:   "clean",
						Usage:  "Remove abandoned staging directories",
						Action: cacheCleanCommand,
						Flags: []cli.Flag{
							&cli.DurationFlag{
								Name:  "max-age",
								Usage: "Only remove staging directories older than this",
								Value: 24 * time.Hour,
							},
						},
					},
				},
			},
		},
	}
}

// loadConfig reads the configuration and applies global flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var opts []config.Option
	if c.IsSet("model") {
		opts = append(opts, config.WithModelID(c.String("model")))
	}
	if c.IsSet("offline") {
		opts = append(opts, config.WithOffline(c.Bool("offline")))
	}
	if c.IsSet("mirror") {
		opts = append(opts, config.WithMirror(c.String("mirror")))
	}
	if c.IsSet("cache-dir") {
		opts = append(opts, config.WithCacheDir(c.String("cache-dir")))
	}
	if c.IsSet("proxy") {
		opts = append(opts, config.WithProxy(c.String("proxy")))
	}
	if c.IsSet("batch-size") {
		opts = append(opts, config.WithBatchSize(c.Int("batch-size")))
	}
	if c.IsSet("store") {
		opts = append(opts, config.WithStoreDir(c.String("store")))
	}

	cfg, err := config.Load(c.String("config"), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	start := time.Now()
	session, err := imgembed.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}
	defer session.Close()

	h := session.Handle()
	fmt.Fprintf(c.App.Writer, "Model: %s\n", session.Model())
	fmt.Fprintf(c.App.Writer, "Source: %s\n", h.Source())
	if entry := h.Entry(); entry != nil {
		fmt.Fprintf(c.App.Writer, "Directory: %s\n", entry.Dir)
	}
	fmt.Fprintf(c.App.Writer, "Dimension: %d\n", h.Dimension())
	fmt.Fprintf(c.App.Writer, "Strategies: %s\n", strings.Join(session.Resolver().Strategies(), ", "))
	fmt.Fprintf(c.App.Writer, "Elapsed: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// embedLine is one line of embed output.
type embedLine struct {
	Index  int       `json:"index"`
	Path   string    `json:"path"`
	Vector []float32 `json:"vector,omitempty"`
	Cached bool      `json:"cached,omitempty"`
	Error  string    `json:"error,omitempty"`
}

func embedCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	folder := c.Args().First()
	if folder == "" {
		return fmt.Errorf("folder argument is required")
	}
	if err := core.ValidatePath(folder); err != nil {
		return err
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	limit := cfg.MaxImages
	if c.IsSet("limit") {
		limit = c.Int("limit")
		if limit <= 0 {
			return fmt.Errorf("limit must be greater than 0")
		}
	}

	collection, err := input.Collect(folder, c.StringSlice("pattern"), limit)
	if err != nil {
		return fmt.Errorf("failed to collect images: %w", err)
	}
	stderr := c.App.ErrWriter
	if len(collection.Inputs) == 0 {
		fmt.Fprintf(stderr, "No images found in %s\n", folder)
		return nil
	}
	fmt.Fprintf(stderr, "Folder: %s\n", folder)
	fmt.Fprintf(stderr, "Images: %d\n", len(collection.Inputs))
	if collection.Truncated {
		fmt.Fprintf(stderr, "Found %d images; only the first %d are processed\n", collection.Total, len(collection.Inputs))
	}
	fmt.Fprintf(stderr, "Estimated time: %s\n", input.Estimate(len(collection.Inputs)).Round(time.Second))
	fmt.Fprintln(stderr)

	out := c.App.Writer
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	session, err := imgembed.Open(ctx, cfg, imgembed.WithExecutorOptions(
		executor.WithProgress(stderr, c.Int("report-interval")),
	))
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}
	defer session.Close()

	enc := json.NewEncoder(w)
	failed, cached := 0, 0
	for res, err := range session.Embed(ctx, collection.Inputs).All() {
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		line := embedLine{Index: res.Index, Path: res.Name, Vector: res.Vector, Cached: res.Cached}
		if res.Err != nil {
			failed++
			line.Error = res.Err.Error()
		}
		if res.Cached {
			cached++
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	fmt.Fprintf(stderr, "Embedded %d images (%d from store, %d failed)\n",
		len(collection.Inputs)-failed, cached, failed)
	return nil
}

// similarCommand embeds the optional folder into the store, then searches the
// store for the query image. Matches from the folder are shown by path, others
// by content key.
func similarCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if c.Args().Len() < 1 || c.Args().Len() > 2 {
		return fmt.Errorf("an image argument and an optional folder are required")
	}
	query := c.Args().Get(0)
	if err := core.ValidatePath(query); err != nil {
		return err
	}
	if c.Int("limit") <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.StoreDir == "" {
		return fmt.Errorf("a vector store is required: %w", imgembed.ErrNoStore)
	}

	var inputs []core.Input
	if folder := c.Args().Get(1); folder != "" {
		if err := core.ValidatePath(folder); err != nil {
			return err
		}
		collection, err := input.Collect(folder, c.StringSlice("pattern"), cfg.MaxImages)
		if err != nil {
			return fmt.Errorf("failed to collect images: %w", err)
		}
		inputs = collection.Inputs
	}

	session, err := imgembed.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}
	defer session.Close()

	paths := make(map[string]string, len(inputs))
	if len(inputs) > 0 {
		for res, err := range session.Embed(ctx, inputs).All() {
			if err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}
			if res.Err != nil {
				slog.Warn("image skipped", "path", res.Name, "error", res.Err)
				continue
			}
			key, err := core.InputKey(inputs[res.Index])
			if err != nil {
				continue
			}
			paths[key] = res.Name
		}
	}

	matches, err := session.FindSimilar(ctx, core.InputFromPath(query), float32(c.Float64("min-similarity")), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(matches) == 0 {
		fmt.Fprintln(c.App.Writer, "No similar images found")
		return nil
	}
	for _, m := range matches {
		name := m.Key
		if path, ok := paths[m.Key]; ok {
			name = path
		}
		fmt.Fprintf(c.App.Writer, "%.4f\t%s\n", m.Score, name)
	}
	return nil
}

func openCache(c *cli.Context) (*cache.Cache, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.ModelCacheDir)
}

func cacheListCommand(c *cli.Context) error {
	mc, err := openCache(c)
	if err != nil {
		return err
	}
	entries, err := mc.List()
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintf(c.App.Writer, "No cached models in %s\n", mc.Root())
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n",
			e.ID,
			humanize.Bytes(uint64(e.Manifest.TotalSize())),
			e.Manifest.Source,
			humanize.Time(e.Manifest.CompletedAt),
		)
	}
	return nil
}

func modelArg(c *cli.Context) (core.ModelID, error) {
	if c.Args().Len() != 1 {
		return core.ModelID{}, fmt.Errorf("exactly one model argument is required")
	}
	return core.ParseModelID(c.Args().First())
}

func cacheEvictCommand(c *cli.Context) error {
	id, err := modelArg(c)
	if err != nil {
		return err
	}
	mc, err := openCache(c)
	if err != nil {
		return err
	}
	if err := mc.Evict(context.Background(), id); err != nil {
		return fmt.Errorf("failed to evict %s: %w", id, err)
	}
	fmt.Fprintf(c.App.Writer, "Evicted %s\n", id)
	return nil
}

func cacheVerifyCommand(c *cli.Context) error {
	id, err := modelArg(c)
	if err != nil {
		return err
	}
	mc, err := openCache(c)
	if err != nil {
		return err
	}
	if err := mc.Verify(id); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "%s: OK\n", id)
	return nil
}

func cacheCleanCommand(c *cli.Context) error {
	mc, err := openCache(c)
	if err != nil {
		return err
	}
	n, err := mc.CleanStaging(c.Duration("max-age"))
	if err != nil {
		return fmt.Errorf("failed to clean staging: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Removed %d staging directories\n", n)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
