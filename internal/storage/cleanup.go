// cleanup.go removes objects whose database rows are already gone. Cleanup never fails
// the caller: each failure is logged, counted, and reported back.
package storage

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bandyab/bandyab/internal/telemetry"
)

// cleanupConcurrency bounds the number of in-flight delete calls
const cleanupConcurrency = 8

// CleanupReport summarises a cleanup run
type CleanupReport struct {
	Removed int      `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

// Cleanup deletes every object under prefixes plus the explicit keys. Keys already
// covered by one of the prefixes are skipped. operation labels the failure metric.
func Cleanup(ctx context.Context, s Storage, operation string, prefixes, keys []string) CleanupReport {
	var (
		mu     sync.Mutex
		report CleanupReport
	)
	fail := func(target string, err error) {
		slog.Warn("storage cleanup failed", "operation", operation, "target", target, "error", err)
		telemetry.StorageCleanupFailuresTotal.WithLabelValues(operation).Inc()
		mu.Lock()
		report.Failed = append(report.Failed, target)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)

	for _, prefix := range prefixes {
		prefix := prefix
		g.Go(func() error {
			n, err := s.DeletePrefix(gctx, prefix)
			mu.Lock()
			report.Removed += n
			mu.Unlock()
			if err != nil {
				fail(prefix, err)
			}
			return nil
		})
	}

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] || coveredBy(key, prefixes) {
			continue
		}
		seen[key] = true
		key := key
		g.Go(func() error {
			if err := s.Delete(gctx, key); err != nil {
				fail(key, err)
				return nil
			}
			mu.Lock()
			report.Removed++
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return report
}

// DeleteQuietly removes one replaced or orphaned object, logging any failure
func DeleteQuietly(ctx context.Context, s Storage, operation, key string) {
	if key == "" {
		return
	}
	if err := s.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete replaced object", "operation", operation, "key", key, "error", err)
		telemetry.StorageCleanupFailuresTotal.WithLabelValues(operation).Inc()
	}
}

func coveredBy(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(key) >= len(p) && key[:len(p)] == p {
			return true
		}
	}
	return false
}
