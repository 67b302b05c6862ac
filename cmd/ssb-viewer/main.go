// Command ssb-viewer serves a Scuttlebutt log as web pages, script
// embeds, JSON and RSS.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/ssbc/ssb-viewer/api"
	"github.com/ssbc/ssb-viewer/config"
	"github.com/ssbc/ssb-viewer/memstore"
	"github.com/ssbc/ssb-viewer/postgres"
	"github.com/ssbc/ssb-viewer/redis"
	"github.com/ssbc/ssb-viewer/render"
	"github.com/ssbc/ssb-viewer/ssb"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ssb-viewer:", err)
		os.Exit(1)
	}
}

type options struct {
	configFile  string
	envFile     string
	importFile  string
	initSchema  bool
	showVersion bool
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	fs := pflag.NewFlagSet("ssb-viewer", pflag.ContinueOnError)
	fs.StringVar(&opts.configFile, "config", "ssb-viewer.yaml", "YAML config file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "file of SSB_VIEWER_* variables")
	fs.StringVar(&opts.importFile, "import", "", "load a JSON message log before serving, - for stdin")
	fs.BoolVar(&opts.initSchema, "init-schema", false, "create the PostgreSQL tables")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	config.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	return opts, fs, nil
}

func run(args []string) error {
	opts, fs, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Println("ssb-viewer", version())
		return nil
	}

	cfg, err := config.Load(config.Sources{
		File:   opts.configFile,
		DotEnv: opts.envFile,
		Flags:  fs,
	})
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, logger, cfg, opts.initSchema)
	if err != nil {
		return err
	}
	defer st.close()

	if opts.importFile != "" {
		if err := importLog(ctx, logger, st, opts.importFile); err != nil {
			return err
		}
	}

	a := &api.API{
		Logger: logger,
		Store:  st.store,
		Blobs:  st.blobs,
		Options: render.Options{
			Base:      cfg.Base,
			MsgBase:   cfg.MsgBase,
			FeedBase:  cfg.FeedBase,
			BlobBase:  cfg.BlobBase,
			ImgBase:   cfg.ImgBase,
			EmojiBase: cfg.EmojiBase,
		},
		Fingerprint: fingerprint(),
		StaticDir:   cfg.StaticDir,
		EmojiDir:    cfg.EmojiDir,
		CacheSize:   cfg.CacheSize,
		Concurrency: cfg.Concurrency,
		ScanLimit:   cfg.ScanLimit,
	}
	return serve(ctx, logger, cfg, gzhttp.GzipHandler(a))
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

type stores struct {
	store ssb.Store
	blobs ssb.BlobStore
	// insert appends one imported message.
	insert func(context.Context, ssb.Message) error
	closers []io.Closer
}

func (s *stores) close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}

func openStores(ctx context.Context, logger *slog.Logger, cfg config.Config, initSchema bool) (*stores, error) {
	st := &stores{}
	mem := memstore.New()

	if cfg.Postgres != "" {
		pg, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pg)
		if initSchema {
			if err := pg.CreateSchema(ctx); err != nil {
				st.close()
				return nil, err
			}
			logger.Info("Schema created")
		}
		st.store = pg
		st.insert = pg.InsertMessage
	} else {
		logger.Warn("No PostgreSQL DSN configured, keeping the log in memory")
		st.store = mem
		st.insert = func(_ context.Context, msg ssb.Message) error {
			mem.Add(msg)
			return nil
		}
	}

	if cfg.Redis != "" {
		r, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, r)
		st.blobs = r
	} else {
		logger.Warn("No Redis address configured, keeping blobs in memory")
		st.blobs = mem
	}
	return st, nil
}

func importLog(ctx context.Context, logger *slog.Logger, st *stores, path string) error {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open import: %w", err)
		}
		defer f.Close()
		in = f
	}

	start := time.Now()
	n := 0
	err := ssb.ReadLog(in, func(msg ssb.Message) error {
		if err := st.insert(ctx, msg); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	logger.Info("Log imported", "messages", humanize.Comma(int64(n)), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, cfg config.Config, h http.Handler) error {
	servers := []*http.Server{{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return info.Main.Version
}

// fingerprint identifies the running build: the VCS revision of a clean
// build, else a hash of the executable.
func fingerprint() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var rev, modified string
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				modified = s.Value
			}
		}
		if rev != "" && modified != "true" {
			return rev
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	f, err := os.Open(exe)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
