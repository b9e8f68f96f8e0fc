package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/beacon/internal/codec"
	"github.com/zsiec/beacon/internal/encode"
	"github.com/zsiec/beacon/internal/pipeline"
	"github.com/zsiec/beacon/internal/rtsp"
	"github.com/zsiec/beacon/internal/source"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	rtspAddr := envOr("RTSP_ADDR", ":8554")
	publicHost := envOr("PUBLIC_HOST", "")
	streamPath := envOr("STREAM_PATH", "/stream")
	width := envOrInt("WIDTH", 320)
	height := envOrInt("HEIGHT", 240)
	fps := envOrInt("FPS", 30)

	slog.Info("beacon starting",
		"version", version,
		"rtsp", rtspAddr,
		"path", streamPath,
		"resolution", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"fps", fps,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srv, err := rtsp.NewServer(rtsp.Config{
		Addr:       rtspAddr,
		StreamPath: streamPath,
		PublicHost: publicHost,
	})
	if err != nil {
		slog.Error("failed to create rtsp server", "error", err)
		os.Exit(1)
	}

	enc, err := encode.New(codec.Config{
		Width:  width,
		Height: height,
		FPS:    fps,
	}, nil, nil)
	if err != nil {
		slog.Error("failed to open encoder", "error", err)
		os.Exit(1)
	}

	// Seed SPS/PPS so the first DESCRIBE carries sprop-parameter-sets
	// before any frame has been encoded.
	if sps, pps, found := enc.ParameterSets(); found {
		srv.SetParameterSets(sps, pps)
	}
	if info, found := enc.StreamInfo(); found {
		slog.Info("stream ready",
			"codec", info.CodecString(),
			"codedWidth", info.Width,
			"codedHeight", info.Height,
		)
	}

	pattern := source.NewPattern(width, height, fps)
	pipe := pipeline.New(fps, pattern.Frame, enc, srv, nil)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(ctx)
	})

	g.Go(func() error {
		return pipe.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid value", "key", key, "value", v)
		return fallback
	}
	return n
}
