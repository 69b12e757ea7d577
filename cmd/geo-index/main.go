// 程序入口：读取配置、打开存储与缓存，并启动查询接口与复制端接口两个 HTTP 服务
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"geo-index/internal/api"
	"geo-index/internal/cache"
	"geo-index/internal/capi"
	"geo-index/internal/config"
	"geo-index/internal/geoip"
	"geo-index/internal/index"
	"geo-index/internal/ingest"
	"geo-index/internal/logger"
	"geo-index/internal/middleware"
	"geo-index/internal/query"
	"geo-index/internal/store/backend"
	"geo-index/internal/tile"
	"geo-index/internal/utils"
)

type flags struct {
	config      string
	addr        string
	xdcrAddr    string
	hostname    string
	concurrency int
	backend     string
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:           "geo-index",
		Short:         "Spatio-temporal tile index fed by XDCR replication",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.config)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVar(&f.config, "config", "", "YAML config file (defaults to $CONFIG_FILE)")
	root.Flags().StringVar(&f.addr, "addr", "", "query API listen address")
	root.Flags().StringVar(&f.xdcrAddr, "xdcr-addr", "", "replication endpoint listen address")
	root.Flags().StringVar(&f.hostname, "hostname", "", "host advertised to replication peers")
	root.Flags().IntVar(&f.concurrency, "concurrency", 0, "concurrent _bulk_docs batches")
	root.Flags().StringVar(&f.backend, "store", "", "store backend: memory, postgres, sqlite or badger")

	logger.Setup()
	if err := root.Execute(); err != nil {
		logger.L().Error("geo_index_exit", "err", err)
		os.Exit(1)
	}
}

// apply：仅覆盖命令行中显式给出的参数
func (f flags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("addr") {
		cfg.Addr = f.addr
	}
	if set("xdcr-addr") {
		cfg.XDCRAddr = f.xdcrAddr
	}
	if set("hostname") {
		cfg.Hostname = f.hostname
	}
	if set("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if set("store") {
		cfg.Store.Backend = f.backend
		if cfg.Store.Backend == config.BackendPostgres && cfg.Store.PostgresDSN == "" {
			cfg.Store.PostgresDSN = config.BuildPostgresDSNFromEnv()
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	l := logger.L()
	grid, err := tile.NewGrid(cfg.Grid)
	if err != nil {
		return err
	}
	st, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			l.Error("store_close_error", "err", err)
		}
	}()

	w := index.NewWriter(grid)
	rc := utils.OpenRedis(ctx, cfg)
	if rc != nil {
		defer rc.Close()
	}
	cached := cache.New(query.NewEngine(st), rc, time.Duration(cfg.Redis.TTLSecs)*time.Second)
	coord := ingest.New(st, w, cfg.Concurrency, ingest.WithOnApplied(func(ctx context.Context) {
		if err := cached.Bump(ctx); err != nil {
			l.Warn("query_cache_bump_error", "err", err)
		}
	}))

	var loc api.Locator
	if cfg.GeoIPAvailable() {
		r, err := geoip.Open(cfg.GeoIPPath, 4096, 10*time.Minute)
		if err != nil {
			l.Error("geoip_open_error", "path", cfg.GeoIPPath, "err", err)
		} else {
			defer r.Close()
			loc = r
		}
	} else {
		l.Info("geoip_disabled")
	}

	port, err := listenPort(cfg.XDCRAddr)
	if err != nil {
		return err
	}
	queries := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.Wrap(logger.AccessMiddleware(l, "query")(api.BuildRoutes(cached, loc)), cfg.RateLimit),
		ReadHeaderTimeout: 10 * time.Second,
	}
	xdcr := &http.Server{
		Addr:              cfg.XDCRAddr,
		Handler:           logger.AccessMiddleware(l, "xdcr")(capi.New(cfg.Hostname, port, coord).Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveQueries(l, queries, cfg) })
	g.Go(func() error {
		l.Info("listening", "surface", "xdcr", "addr", cfg.XDCRAddr, "hostname", cfg.Hostname)
		return ignoreClosed(xdcr.ListenAndServe())
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		l.Info("shutdown_begin")
		return errors.Join(queries.Shutdown(sctx), xdcr.Shutdown(sctx))
	})
	return g.Wait()
}

// serveQueries：启用 TLS 时先确保证书存在，缺失则生成自签名证书
func serveQueries(l *slog.Logger, s *http.Server, cfg config.Config) error {
	if !cfg.TLS.Enable {
		l.Info("listening", "surface", "query", "addr", s.Addr)
		return ignoreClosed(s.ListenAndServe())
	}
	if err := utils.EnsureSelfSignedCert(cfg.TLS, cfg.Hostname); err != nil {
		return fmt.Errorf("tls cert: %w", err)
	}
	l.Info("listening_tls", "surface", "query", "addr", s.Addr, "cert", cfg.TLS.CertPath)
	return ignoreClosed(s.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath))
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// listenPort：对端回连端口取自监听地址
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("xdcr addr %q: %w", addr, err)
	}
	return strconv.Atoi(p)
}
