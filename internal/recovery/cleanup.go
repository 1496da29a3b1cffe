package recovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CleanupResult lists what one cleanup pass removed.
type CleanupResult struct {
	Scanned int      `json:"scanned"`
	Deleted []string `json:"deleted"`
	Errors  int      `json:"errors"`
}

// CleanupCorruptedData deletes temporary files and undersized media files
// under the session's artifact directory, or under the whole artifacts root
// when sessionID is empty. A missing directory is not an error. Files that
// cannot be removed are logged and counted; the walk continues.
func (c *Coordinator) CleanupCorruptedData(ctx context.Context, sessionID string) (CleanupResult, error) {
	var res CleanupResult
	if c.cfg.ArtifactsRoot == "" {
		return res, nil
	}

	dir := c.cfg.ArtifactsRoot
	if sessionID != "" {
		if !filepath.IsLocal(sessionID) {
			return res, fmt.Errorf("cleanup %q: session id is not a local path", sessionID)
		}
		dir = filepath.Join(dir, sessionID)
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if isNotExist(err) && path == dir {
				return fs.SkipAll
			}
			c.logger.Warn("recovery: walk", "path", path, "error", err)
			res.Errors++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		res.Scanned++
		info, err := d.Info()
		if err != nil {
			res.Errors++
			return nil
		}
		reason := c.corruption(d.Name(), info.Size())
		if reason == "" {
			return nil
		}
		if err := os.Remove(path); err != nil && !isNotExist(err) {
			c.logger.Warn("recovery: remove artifact", "path", path, "error", err)
			res.Errors++
			return nil
		}
		res.Deleted = append(res.Deleted, path)
		c.filesDeleted.Add(1)
		c.deletedCounter.Add(ctx, 1)
		c.logger.Info("recovery: removed artifact", "path", path, "reason", reason, "bytes", info.Size())
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("cleanup %s: %w", dir, err)
	}
	return res, nil
}

// corruption returns why a file should be deleted, or "" to keep it.
func (c *Coordinator) corruption(name string, size int64) string {
	lower := strings.ToLower(name)
	for _, suffix := range c.cfg.TempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return "temporary"
		}
	}
	ext := filepath.Ext(lower)
	for _, media := range c.cfg.MediaExtensions {
		if ext == media && size < c.cfg.MinArtifactBytes {
			return "undersized"
		}
	}
	return ""
}
