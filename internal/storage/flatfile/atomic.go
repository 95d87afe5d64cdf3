package flatfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	maxBackups = 5
	minBackups = 2
)

// stageFile writes data to a synced temp file next to path and returns the
// temp name. The caller renames it over the target to commit, or removes it.
func stageFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp for %s: %w", path, err)
	}
	return tmpName, nil
}

// writeFileAtomic writes data through a temp file in the same directory,
// fsyncs it, then renames over the target. Readers never observe a partial
// file.
func writeFileAtomic(path string, data []byte) error {
	tmpName, err := stageFile(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// backupFile snapshots the current file as <name>.backup.YYYYMMDD_HHMMSS
// before an overwrite, then prunes old snapshots. A missing source is not an
// error: first write of a new file.
func backupFile(path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s for backup: %w", path, err)
	}
	stamp := now.Format("20060102_150405")
	backup := path + ".backup." + stamp
	// Same-second writes would collide on the stamp; suffix until free.
	for i := 1; ; i++ {
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			break
		}
		backup = fmt.Sprintf("%s.backup.%s_%d", path, stamp, i)
	}
	if err := os.WriteFile(backup, data, 0644); err != nil {
		return fmt.Errorf("write backup %s: %w", backup, err)
	}
	return pruneBackups(path)
}

// pruneBackups keeps at most maxBackups snapshots per file and never deletes
// below minBackups.
func pruneBackups(path string) error {
	backups, err := listBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= maxBackups {
		return nil
	}
	excess := len(backups) - maxBackups
	if keep := len(backups) - excess; keep < minBackups {
		excess = len(backups) - minBackups
	}
	// Oldest first; the timestamp suffix sorts lexicographically.
	sort.Strings(backups)
	for _, b := range backups[:excess] {
		if err := os.Remove(b); err != nil {
			return fmt.Errorf("prune backup %s: %w", b, err)
		}
	}
	return nil
}

func listBackups(path string) ([]string, error) {
	return filepath.Glob(path + ".backup.*")
}
