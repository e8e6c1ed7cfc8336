package repository

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"
	"github.com/pkg/errors"

	"memo-sync/internal/domain"
)

const (
	docTypeNote  = "note"
	docTypeStats = "stats"
	statsDocID   = "stats"
)

type noteDoc struct {
	ID   string       `json:"_id"`
	Rev  string       `json:"_rev,omitempty"`
	Type string       `json:"type"`
	Note *domain.Note `json:"note"`
}

type statsDoc struct {
	ID    string        `json:"_id"`
	Rev   string        `json:"_rev,omitempty"`
	Type  string        `json:"type"`
	Stats *domain.Stats `json:"stats"`
}

type couchStore struct {
	client *kivik.Client
	db     *kivik.DB
}

// NewCouchStore stores one document per note (note:<id>) and a single stats
// document in dbName, creating the database when it is missing.
func NewCouchStore(ctx context.Context, client *kivik.Client, dbName string) (NoteStore, error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, errors.Wrap(err, "check database existence failed")
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, errors.Wrap(err, "create database failed")
		}
	}
	db := client.DB(dbName)
	if err := db.Err(); err != nil {
		return nil, errors.Wrap(err, "open database failed")
	}
	return &couchStore{client: client, db: db}, nil
}

func noteDocID(id string) string {
	return fmt.Sprintf("note:%s", id)
}

func (s *couchStore) ReadNotes(ctx context.Context) ([]*domain.Note, error) {
	rows := s.db.AllDocs(ctx, kivik.Param("include_docs", true))
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list notes failed")
	}
	defer rows.Close()

	notes := []*domain.Note{}
	for rows.Next() {
		var doc noteDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		if doc.Type != docTypeNote || doc.Note == nil {
			continue
		}
		doc.Note.Normalize()
		notes = append(notes, doc.Note)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate notes failed")
	}

	return notes, nil
}

func (s *couchStore) SaveNote(ctx context.Context, note *domain.Note) error {
	docID := noteDocID(note.ID)

	doc := noteDoc{ID: docID, Type: docTypeNote, Note: note}

	var existing noteDoc
	err := s.db.Get(ctx, docID).ScanDoc(&existing)
	switch {
	case err == nil:
		doc.Rev = existing.Rev
	case kivik.HTTPStatus(err) == http.StatusNotFound:
	default:
		return errors.Wrap(err, "fetch existing note failed")
	}

	if _, err := s.db.Put(ctx, docID, doc); err != nil {
		return errors.Wrap(err, "save note failed")
	}
	return nil
}

func (s *couchStore) ReadStats(ctx context.Context) (*domain.Stats, error) {
	var doc statsDoc
	err := s.db.Get(ctx, statsDocID).ScanDoc(&doc)
	if kivik.HTTPStatus(err) == http.StatusNotFound {
		return emptyStats(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read stats failed")
	}
	if doc.Stats == nil {
		return emptyStats(), nil
	}
	if doc.Stats.ActivityData == nil {
		doc.Stats.ActivityData = []domain.ActivityData{}
	}
	return doc.Stats, nil
}

func (s *couchStore) WriteStats(ctx context.Context, stats *domain.Stats) error {
	doc := statsDoc{ID: statsDocID, Type: docTypeStats, Stats: stats}

	var existing statsDoc
	err := s.db.Get(ctx, statsDocID).ScanDoc(&existing)
	switch {
	case err == nil:
		doc.Rev = existing.Rev
	case kivik.HTTPStatus(err) == http.StatusNotFound:
	default:
		return errors.Wrap(err, "fetch existing stats failed")
	}

	if _, err := s.db.Put(ctx, statsDocID, doc); err != nil {
		return errors.Wrap(err, "write stats failed")
	}
	return nil
}

func (s *couchStore) Close() error {
	return s.client.Close()
}
