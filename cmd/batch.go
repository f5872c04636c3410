package main

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/pipeline"
	"github.com/creatorpulse/trendwatch/internal/store"
)

var batchTenantsFile string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run trend detection for all configured tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		tenants, err := resolveTenants()
		if err != nil {
			return err
		}
		if len(tenants) == 0 {
			return eris.New("no tenants configured (set batch.tenants or --tenants-file)")
		}

		summary := runBatch(ctx, st, tenants)
		zap.L().Info("batch complete",
			zap.Int("tenants", len(tenants)),
			zap.Int("succeeded", summary.succeeded),
			zap.Int("skipped", summary.skipped),
			zap.Int("failed", summary.failed),
		)
		if summary.failed > 0 {
			return eris.Errorf("batch: %d of %d tenant runs failed", summary.failed, len(tenants))
		}
		return nil
	},
}

type batchSummary struct {
	succeeded int
	skipped   int
	failed    int
	results   []*model.RunResult
}

// runBatch executes detection for each tenant with bounded concurrency.
// Tenants are independent; one tenant failing does not stop the others.
func runBatch(ctx context.Context, st store.Store, tenants []string) *batchSummary {
	p := pipeline.New(cfg, st, initLocker(st), initExplainer())

	var mu sync.Mutex
	summary := &batchSummary{}

	g, ctx := errgroup.WithContext(ctx)
	limit := cfg.Batch.MaxConcurrentTenants
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, tenant := range tenants {
		g.Go(func() error {
			result, err := p.Run(ctx, tenant)

			mu.Lock()
			defer mu.Unlock()
			summary.results = append(summary.results, result)
			switch {
			case errors.Is(err, pipeline.ErrAlreadyRunning):
				summary.skipped++
			case err != nil:
				summary.failed++
				zap.L().Error("tenant run failed", zap.String("tenant", tenant), zap.Error(err))
				parkFailure(ctx, st, result, tenant, err)
			default:
				summary.succeeded++
			}
			return nil
		})
	}

	_ = g.Wait()
	return summary
}

// resolveTenants merges the configured tenant list with an optional YAML
// tenants file.
func resolveTenants() ([]string, error) {
	tenants := append([]string(nil), cfg.Batch.Tenants...)

	path := batchTenantsFile
	if path == "" {
		path = cfg.Batch.TenantsFile
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read tenants file %s", path)
		}
		var file struct {
			Tenants []string `yaml:"tenants"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, eris.Wrapf(err, "parse tenants file %s", path)
		}
		tenants = append(tenants, file.Tenants...)
	}

	seen := make(map[string]struct{}, len(tenants))
	out := tenants[:0]
	for _, t := range tenants {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchTenantsFile, "tenants-file", "", "YAML file listing tenants")
	rootCmd.AddCommand(batchCmd)
}
