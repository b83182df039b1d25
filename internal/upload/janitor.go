package upload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Janitor removes staging directories and artifacts that outlived ttl,
// typically uploads a client abandoned before completion or sending.
type Janitor struct {
	chunks    *ChunkStore
	assembler *Assembler
	ttl       time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewJanitor(chunks *ChunkStore, assembler *Assembler, ttl, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{chunks: chunks, assembler: assembler, ttl: ttl, interval: interval, logger: logger}
}

// Run sweeps at the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			removed := j.Sweep(now)
			if removed > 0 {
				j.logger.Info("janitor: removed stale uploads", "count", removed)
			}
		}
	}
}

// Sweep deletes everything last modified before now-ttl and returns how many
// uploads and artifacts were removed. Failures are logged and skipped.
func (j *Janitor) Sweep(now time.Time) int {
	cutoff := now.Add(-j.ttl)
	removed := 0

	entries, err := os.ReadDir(j.chunks.root)
	if err != nil {
		j.logger.Warn("janitor: read staging dir failed", "err", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !stale(e, cutoff) {
			continue
		}
		uploadID := e.Name()
		unlock := j.chunks.lock(uploadID)
		err := j.chunks.Remove(uploadID)
		unlock()
		if err != nil {
			j.logger.Warn("janitor: remove upload failed", "upload_id", uploadID, "err", err)
			continue
		}
		removed++
	}

	entries, err = os.ReadDir(j.assembler.artifactDir)
	if err != nil {
		j.logger.Warn("janitor: read artifact dir failed", "err", err)
	}
	for _, e := range entries {
		if e.IsDir() || !stale(e, cutoff) {
			continue
		}
		path := filepath.Join(j.assembler.artifactDir, e.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("janitor: remove artifact failed", "path", path, "err", err)
			continue
		}
		removed++
	}

	return removed
}

func stale(e os.DirEntry, cutoff time.Time) bool {
	info, err := e.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}
