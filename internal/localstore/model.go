package localstore

import (
	"time"

	"memo-sync/internal/domain"
)

type noteModel struct {
	ID         string     `gorm:"column:id;primaryKey"`
	Content    string     `gorm:"column:content"`
	Tags       []string   `gorm:"column:tags;serializer:json"`
	Links      []string   `gorm:"column:links;serializer:json"`
	Version    int64      `gorm:"column:version;not null"`
	SyncStatus string     `gorm:"column:sync_status;index"`
	Deleted    int        `gorm:"column:deleted;not null;index"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime:false"`
	LastEdited *time.Time `gorm:"column:last_edited"`
}

func (noteModel) TableName() string {
	return "notes"
}

type syncMetaModel struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (syncMetaModel) TableName() string {
	return "sync_meta"
}

func toModel(n *domain.Note) *noteModel {
	c := n.Clone()
	c.Normalize()
	return &noteModel{
		ID:         c.ID,
		Content:    c.Content,
		Tags:       c.Tags,
		Links:      c.Links,
		Version:    c.Version,
		SyncStatus: string(c.SyncStatus),
		Deleted:    c.Deleted,
		CreatedAt:  c.CreatedAt,
		LastEdited: c.LastEdited,
	}
}

func (m *noteModel) toDomain() *domain.Note {
	n := &domain.Note{
		ID:         m.ID,
		Content:    m.Content,
		Tags:       m.Tags,
		Links:      m.Links,
		Version:    m.Version,
		SyncStatus: domain.SyncStatus(m.SyncStatus),
		Deleted:    m.Deleted,
		CreatedAt:  m.CreatedAt,
		LastEdited: m.LastEdited,
	}
	n.Normalize()
	return n
}

func toDomainList(models []noteModel) []*domain.Note {
	out := make([]*domain.Note, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out
}
