package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/loader"
)

var (
	ingestDir string
	ingestFTP string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load operational log files into the record store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runID := uuid.New().String()
		log := zap.L().With(zap.String("ingest_run", runID))

		dir := ingestDir
		if dir == "" {
			dir = cfg.Loader.DataDir
		}

		if ingestFTP != "" {
			dest := dir
			fetched, err := loader.FetchFTP(ctx, ingestFTP, dest, loader.FTPOptions{
				Timeout: time.Duration(cfg.Loader.FTPTimeoutSecs) * time.Second,
				User:    cfg.Loader.FTPUser,
				Pass:    cfg.Loader.FTPPass,
			})
			if err != nil {
				return eris.Wrap(err, "fetch ftp drop")
			}
			log.Info("ftp drop fetched", zap.Int("files", len(fetched)))
		}

		result, err := loader.LoadDir(ctx, dir)
		if err != nil {
			return eris.Wrap(err, "load data dir")
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.SaveBatch(ctx, result.Batch); err != nil {
			return eris.Wrap(err, "save batch")
		}

		log.Info("ingest complete",
			zap.Int("orders", len(result.Batch.Orders)),
			zap.Int("fleet_logs", len(result.Batch.FleetLogs)),
			zap.Int("warehouse_logs", len(result.Batch.WarehouseLogs)),
			zap.Int("external_factors", len(result.Batch.ExternalFactors)),
			zap.Int("feedback", len(result.Batch.Feedback)),
			zap.Int("malformed_rows", result.Malformed),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory of table files (default: loader.data_dir)")
	ingestCmd.Flags().StringVar(&ingestFTP, "ftp", "", "FTP drop URL to fetch table files from first")
	rootCmd.AddCommand(ingestCmd)
}
