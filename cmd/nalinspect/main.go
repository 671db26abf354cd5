package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nalbits/internal/inspect"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	paths := os.Args[1:]
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nalinspect FILE... (use - for stdin)")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	format := envOr("NALINSPECT_FORMAT", "text")
	workers, err := strconv.Atoi(envOr("NALINSPECT_WORKERS", strconv.Itoa(runtime.NumCPU())))
	if err != nil || workers < 1 {
		slog.Error("invalid NALINSPECT_WORKERS", "value", os.Getenv("NALINSPECT_WORKERS"))
		os.Exit(2)
	}

	maxSize, err := humanize.ParseBytes(envOr("NALINSPECT_MAX_SIZE", "1 GiB"))
	if err != nil {
		slog.Error("invalid NALINSPECT_MAX_SIZE", "error", err)
		os.Exit(2)
	}

	var forced inspect.Codec
	if v := os.Getenv("NALINSPECT_CODEC"); v != "" {
		if forced, err = inspect.ParseCodec(v); err != nil {
			slog.Error("invalid NALINSPECT_CODEC", "error", err)
			os.Exit(2)
		}
	}

	slog.Debug("nalinspect starting", "version", version, "files", len(paths), "workers", workers, "format", format, "maxSize", humanize.IBytes(maxSize))

	in := inspect.New(nil)
	reports := make([]*inspect.Report, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			r, err := inspectFile(ctx, in, path, forced, int64(maxSize))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("inspect failed", "error", err)
		os.Exit(1)
	}

	for _, r := range reports {
		var err error
		if format == "json" {
			err = r.WriteJSON(os.Stdout)
		} else {
			err = r.Format(os.Stdout)
		}
		if err != nil {
			slog.Error("write report", "error", err)
			os.Exit(1)
		}
	}
}

func inspectFile(ctx context.Context, in *inspect.Inspector, path string, codec inspect.Codec, limit int64) (*inspect.Report, error) {
	data, name, err := inspect.ReadInput(path, limit)
	if err != nil {
		return nil, err
	}

	if codec == "" {
		var ok bool
		if codec, ok = inspect.CodecFromPath(name); !ok {
			codec = inspect.CodecH264
		}
	}

	slog.Debug("inspecting", "file", path, "codec", codec, "bytes", len(data))
	return in.Inspect(ctx, path, data, codec)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
