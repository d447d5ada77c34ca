package vecindex

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/avelin0/sage/internal/log"
)

// On-disk layout: two coupled artifacts inside the index directory.
// The structure file holds the dimension and vectors; the mapping file
// holds the parallel id sequence. Both are replaced together or not at
// all.
const (
	structureFile = "vectors.gob"
	mappingFile   = "ids.gob"
	lockFile      = ".index.lock"
)

// structureRecord is the gob payload of the structure file.
type structureRecord struct {
	Dimension int
	Vectors   [][]float32
}

// Exists reports whether a persisted index is present in dir. Used by
// the synchronizer's absence trigger; it deliberately checks only the
// structure file, since a missing mapping renders the structure
// unusable and Load falls back to empty anyway.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, structureFile))
	return err == nil
}

// Save writes the structure and id-mapping artifacts to dir. Both are
// written to temporary paths first and rename-swapped as the final
// step, so a reader never observes one artifact updated without the
// other. A file lock serializes writers sharing the directory.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking index directory: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	structPath := filepath.Join(dir, structureFile)
	mapPath := filepath.Join(dir, mappingFile)
	structTmp := structPath + ".tmp"
	mapTmp := mapPath + ".tmp"

	if err := writeGob(structTmp, structureRecord{Dimension: ix.dimension, Vectors: ix.vectors}); err != nil {
		return fmt.Errorf("writing structure file: %w", err)
	}
	if err := writeGob(mapTmp, ix.ids); err != nil {
		_ = os.Remove(structTmp)
		return fmt.Errorf("writing id-mapping file: %w", err)
	}

	if err := os.Rename(structTmp, structPath); err != nil {
		_ = os.Remove(structTmp)
		_ = os.Remove(mapTmp)
		return fmt.Errorf("publishing structure file: %w", err)
	}
	if err := os.Rename(mapTmp, mapPath); err != nil {
		_ = os.Remove(mapTmp)
		return fmt.Errorf("publishing id-mapping file: %w", err)
	}
	return nil
}

// Load reconstructs an index from dir. Absence of the persisted files,
// a dimension disagreeing with the configured one, or an inconsistent
// structure/mapping pair are all expected, recoverable states: Load
// logs them and returns an empty index for the synchronizer to rebuild,
// it never fails hard.
func Load(dir string, dimension int, logger log.Logger) *Index {
	empty := &Index{dimension: dimension}

	var rec structureRecord
	if err := readGob(filepath.Join(dir, structureFile), &rec); err != nil {
		if os.IsNotExist(err) {
			logger.Info("no persisted index found, starting empty", "dir", dir)
		} else {
			logger.Warn("persisted index unreadable, starting empty", "dir", dir, "error", err)
		}
		return empty
	}

	if rec.Dimension != dimension {
		logger.Warn("persisted index dimension incompatible, starting empty",
			"persisted", rec.Dimension, "configured", dimension)
		return empty
	}

	var ids []int64
	if err := readGob(filepath.Join(dir, mappingFile), &ids); err != nil {
		logger.Warn("id mapping unreadable, starting empty", "dir", dir, "error", err)
		return empty
	}

	if len(ids) != len(rec.Vectors) {
		// A structure/mapping count disagreement would silently
		// misattribute answers; an empty index only costs one rebuild.
		logger.Warn("persisted index inconsistent, starting empty",
			"vectors", len(rec.Vectors), "ids", len(ids))
		return empty
	}

	logger.Info("persisted index loaded", "count", len(ids), "dimension", dimension)
	return &Index{dimension: dimension, vectors: rec.Vectors, ids: ids}
}

func writeGob(path string, v any) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return gob.NewDecoder(f).Decode(v)
}
