package snapshot

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

const (
	snapshotExt = ".json.gz"
	backupExt   = ".json.gz.bak"
	archiveDir  = "archive"
	// Archive filenames carry this timestamp suffix: <source>-20060102T150405.json.gz
	archiveTimeLayout = "20060102T150405"
)

// Store persists one compressed snapshot file per source, keeps a backup of
// the immediately preceding version, and archives timestamped copies for
// manual rollback. It is the only component that touches the snapshot
// directory.
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, archiveDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{dir: dir, log: log.With().Str("component", "snapshot").Logger()}, nil
}

func (s *Store) primaryPath(source string) string {
	return filepath.Join(s.dir, source+snapshotExt)
}

func (s *Store) backupPath(source string) string {
	return filepath.Join(s.dir, source+backupExt)
}

// archivePath picks a free archive filename. The timestamp has one-second
// granularity, so saves landing in the same second get a numeric suffix
// instead of overwriting the earlier copy.
func (s *Store) archivePath(source string, now time.Time) string {
	base := fmt.Sprintf("%s-%s", source, now.UTC().Format(archiveTimeLayout))
	path := filepath.Join(s.dir, archiveDir, base+snapshotExt)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(s.dir, archiveDir, fmt.Sprintf("%s-%d%s", base, n, snapshotExt))
	}
}

// Load returns the last persisted snapshot for source. It never fails: a
// missing or corrupted primary falls back to the backup, and if that is
// also unreadable an empty snapshot is returned so the orchestrator can
// bootstrap from the destination instead.
func (s *Store) Load(source string) models.DatabaseSnapshot {
	snap, err := readSnapshotFile(s.primaryPath(source))
	if err == nil {
		return snap
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("source", source).Msg("primary snapshot unreadable, trying backup")
	}

	snap, berr := readSnapshotFile(s.backupPath(source))
	if berr == nil {
		s.log.Warn().Str("source", source).Msg("loaded snapshot from backup")
		return snap
	}
	if !errors.Is(err, os.ErrNotExist) || !errors.Is(berr, os.ErrNotExist) {
		s.log.Warn().AnErr("primary", err).AnErr("backup", berr).Str("source", source).
			Msg("no usable snapshot, starting from empty state")
	}
	return models.DatabaseSnapshot{}
}

// Save persists snap as the new primary for source. An existing primary is
// first copied to the backup path and to a timestamped archive. The new
// file is written to a temp path and renamed, so a crash mid-write never
// leaves a half-written primary behind.
func (s *Store) Save(source string, snap models.DatabaseSnapshot) error {
	primary := s.primaryPath(source)

	if _, err := os.Stat(primary); err == nil {
		if err := copyFile(primary, s.backupPath(source)); err != nil {
			return fmt.Errorf("failed to back up snapshot: %w", err)
		}
		if err := copyFile(primary, s.archivePath(source, time.Now())); err != nil {
			// Archival is forensic convenience, not part of the durability
			// contract; the backup above already happened.
			s.log.Warn().Err(err).Str("source", source).Msg("failed to archive snapshot")
		}
	}

	tmp := primary + ".tmp"
	if err := writeSnapshotFile(tmp, snap); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, primary); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	s.log.Debug().Str("source", source).Int("rows", snap.RowCount()).Msg("snapshot saved")
	return nil
}

// Purge deletes archive files whose modification time is older than maxAge.
// Housekeeping only: per-file failures are logged and never propagated.
func (s *Store) Purge(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	dir := filepath.Join(s.dir, archiveDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Msg("failed to read archive directory")
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("failed to purge archive file")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("purged expired snapshot archives")
	}
	return removed
}

func readSnapshotFile(path string) (models.DatabaseSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	defer gz.Close()

	var snap models.DatabaseSnapshot
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if snap == nil {
		snap = models.DatabaseSnapshot{}
	}
	return snap, nil
}

func writeSnapshotFile(path string, snap models.DatabaseSnapshot) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(snap); err != nil {
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
