package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/analyzer"
	"github.com/sells-group/delivery-insights/internal/attribution"
	"github.com/sells-group/delivery-insights/internal/config"
	"github.com/sells-group/delivery-insights/internal/correlate"
	"github.com/sells-group/delivery-insights/internal/loader"
	"github.com/sells-group/delivery-insights/internal/model"
	"github.com/sells-group/delivery-insights/internal/store"
)

// analysisEnv wires the store, the correlation index, and the analysis
// components for one invocation.
type analysisEnv struct {
	Store    store.Store
	Index    *correlate.Index
	Engine   *attribution.Engine
	Analyzer *analyzer.Analyzer
}

func (e *analysisEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		s, err := store.NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// initAnalysis loads the stored batch and builds the index, engine, and
// analyzer from configuration.
func initAnalysis(ctx context.Context) (*analysisEnv, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	batch, err := st.LoadBatch(ctx)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load batch")
	}

	idx, err := correlate.Build(batch)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "build correlation index")
	}

	policy := attribution.DefaultPolicy()
	if cfg.Engine.PolicyPath != "" {
		policy, err = attribution.LoadPolicy(cfg.Engine.PolicyPath)
		if err != nil {
			st.Close()
			return nil, eris.Wrap(err, "load scoring policy")
		}
	}

	engineCfg := attribution.Config{
		Lookback:       time.Duration(cfg.Engine.LookbackHours) * time.Hour,
		Radius:         attribution.LocationRadius(cfg.Engine.LocationRadius),
		DelayThreshold: time.Duration(cfg.Engine.DelayThresholdHours) * time.Hour,
	}
	engine := attribution.NewEngine(idx, policy, engineCfg)

	an := analyzer.New(idx, engine, analyzer.Config{
		PrimaryCauseTopK:     cfg.Analyzer.PrimaryCauseTopK,
		ScalingRiskThreshold: cfg.Analyzer.ScalingRiskThreshold,
		Concurrency:          cfg.Analyzer.Concurrency,
	})

	zap.L().Info("analysis environment ready",
		zap.Int("orders", len(batch.Orders)),
		zap.Int("excluded", idx.Excluded()),
	)

	return &analysisEnv{Store: st, Index: idx, Engine: engine, Analyzer: an}, nil
}

// filterFlags registers the shared scope flags on a command.
type filterFlags struct {
	city      string
	client    string
	warehouse string
	from      string
	to        string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.city, "city", "", "destination city key")
	cmd.Flags().StringVar(&f.client, "client", "", "client id")
	cmd.Flags().StringVar(&f.warehouse, "warehouse", "", "origin warehouse id")
	cmd.Flags().StringVar(&f.from, "from", "", "start date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&f.to, "to", "", "end date (YYYY-MM-DD, inclusive)")
}

func (f *filterFlags) build() (model.OrderFilter, error) {
	filter := model.OrderFilter{
		City:        loader.NormalizeLocationKey(f.city),
		ClientID:    f.client,
		WarehouseID: loader.NormalizeLocationKey(f.warehouse),
	}
	if f.from != "" {
		t, err := time.Parse("2006-01-02", f.from)
		if err != nil {
			return model.OrderFilter{}, eris.Wrap(err, "parse --from")
		}
		filter.From = &t
	}
	if f.to != "" {
		t, err := time.Parse("2006-01-02", f.to)
		if err != nil {
			return model.OrderFilter{}, eris.Wrap(err, "parse --to")
		}
		// Include the whole end day.
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	return filter, nil
}
