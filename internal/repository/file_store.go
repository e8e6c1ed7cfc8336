package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"memo-sync/internal/domain"
)

const (
	notesFileName = "notes.json"
	statsFileName = "stats.json"
)

type fileStore struct {
	dir string
}

// NewFileStore keeps notes.json and stats.json under dir.
func NewFileStore(dir string) (NoteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir failed")
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) ReadNotes(ctx context.Context) ([]*domain.Note, error) {
	return readNotesFile(filepath.Join(s.dir, notesFileName))
}

func (s *fileStore) SaveNote(ctx context.Context, note *domain.Note) error {
	path := filepath.Join(s.dir, notesFileName)
	notes, err := readNotesFile(path)
	if err != nil {
		return err
	}
	return writeJSONAtomic(path, upsertNote(notes, note))
}

func (s *fileStore) ReadStats(ctx context.Context) (*domain.Stats, error) {
	return readStatsFile(filepath.Join(s.dir, statsFileName))
}

func (s *fileStore) WriteStats(ctx context.Context, stats *domain.Stats) error {
	return writeJSONAtomic(filepath.Join(s.dir, statsFileName), stats)
}

func (s *fileStore) Close() error {
	return nil
}

func readNotesFile(path string) ([]*domain.Note, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []*domain.Note{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s failed", filepath.Base(path))
	}

	notes := []*domain.Note{}
	if len(data) == 0 {
		return notes, nil
	}
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, errors.Wrapf(err, "parse %s failed", filepath.Base(path))
	}
	for _, n := range notes {
		n.Normalize()
	}
	return notes, nil
}

func readStatsFile(path string) (*domain.Stats, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) || len(data) == 0 {
		return emptyStats(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s failed", filepath.Base(path))
	}

	stats := emptyStats()
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, errors.Wrapf(err, "parse %s failed", filepath.Base(path))
	}
	if stats.ActivityData == nil {
		stats.ActivityData = []domain.ActivityData{}
	}
	return stats, nil
}

// writeJSONAtomic writes v as indented JSON through a temp file and a rename
// so readers never observe a partial file.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal failed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create dir failed")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file failed")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file failed")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp file failed")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file failed")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace %s failed", filepath.Base(path))
	}
	return nil
}
