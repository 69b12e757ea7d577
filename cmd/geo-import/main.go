// 离线导入：从 NDJSON 文件（或标准输入）批量写入索引，每行一个与 _bulk_docs 相同结构的文档
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"geo-index/internal/config"
	"geo-index/internal/index"
	"geo-index/internal/ingest"
	"geo-index/internal/logger"
	"geo-index/internal/store/backend"
	"geo-index/internal/tile"
)

func main() {
	var (
		cfgPath string
		batch   int
		store   string
	)
	root := &cobra.Command{
		Use:           "geo-import [file.ndjson]",
		Short:         "Bulk-load documents into the tile index",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Backend = store
				if store == config.BackendPostgres && cfg.Store.PostgresDSN == "" {
					cfg.Store.PostgresDSN = config.BuildPostgresDSNFromEnv()
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				fh, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer fh.Close()
				in = fh
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return importDocs(ctx, cfg, in, batch)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "YAML config file (defaults to $CONFIG_FILE)")
	root.Flags().IntVar(&batch, "batch", 500, "documents per batch")
	root.Flags().StringVar(&store, "store", "", "store backend: memory, postgres, sqlite or badger")

	logger.Setup()
	if err := root.Execute(); err != nil {
		logger.L().Error("geo_import_exit", "err", err)
		os.Exit(1)
	}
}

// errVolatileStore：内存后端未配置快照路径时导入结果会在进程退出后丢失
var errVolatileStore = errors.New("memory store without SNAPSHOT_PATH would discard the import; set a snapshot path or choose another --store")

func importDocs(ctx context.Context, cfg config.Config, in io.Reader, batch int) (err error) {
	if (cfg.Store.Backend == config.BackendMemory || cfg.Store.Backend == "") && cfg.Store.SnapshotPath == "" {
		return errVolatileStore
	}
	grid, err := tile.NewGrid(cfg.Grid)
	if err != nil {
		return err
	}
	st, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	// 内存后端在关闭时写出快照，失败需要反映到退出码
	defer func() { err = errors.Join(err, st.Close()) }()

	coord := ingest.New(st, index.NewWriter(grid), 1)
	start := time.Now()
	var applied int
	n, err := ingest.ReadNDJSON(in, batch, func(docs []ingest.Doc) error {
		res, err := coord.BulkDocs(ctx, docs)
		applied += len(res)
		return err
	})
	logger.L().Info("import_done", "docs", n, "applied", applied, "ms", time.Since(start).Milliseconds())
	return err
}
