package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/document"
)

const documentColumns = "id, owner_id, lease_id, maintenance_id, name, content_type, size, storage_key, created_at"

type documentRow struct {
	ID            string      `db:"id"`
	OwnerID       string      `db:"owner_id"`
	LeaseID       null.String `db:"lease_id"`
	MaintenanceID null.String `db:"maintenance_id"`
	Name          string      `db:"name"`
	ContentType   string      `db:"content_type"`
	Size          int64       `db:"size"`
	StorageKey    string      `db:"storage_key"`
	CreatedAt     time.Time   `db:"created_at"`
}

type documentRepository struct {
	repository
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(exec core.DBExecutor) *documentRepository {
	return &documentRepository{repository{exec: exec}}
}

func (repo documentRepository) CreateDocument(ctx context.Context, doc document.Document, exec ...core.DBExecutor) (document.Document, error) {
	q := `INSERT INTO documents (` + documentColumns + `)
		VALUES (:id, :owner_id, :lease_id, :maintenance_id, :name, :content_type, :size, :storage_key, :created_at)`
	doc.CreatedAt = doc.CreatedAt.UTC()
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, documentRow(doc)); err != nil {
		return document.Document{}, errors.Wrap(err, "inserting document")
	}
	return doc, nil
}

func (repo documentRepository) QueryDocuments(ctx context.Context, filter *document.QueryFilter, exec ...core.DBExecutor) ([]document.Document, error) {
	var w where
	if filter != nil {
		w.eq("lease_id", filter.LeaseID)
		w.eq("maintenance_id", filter.MaintenanceID)
		w.eq("owner_id", filter.OwnerID)
		w.in("id", filter.IDs)
		if uid := filter.VisibleTo; uid != "" {
			w.add(`owner_id = ?
				OR lease_id IN (SELECT id FROM leases WHERE tenant_id = ? OR landlord_id = ?)
				OR maintenance_id IN (SELECT id FROM maintenance_requests WHERE tenant_id = ? OR landlord_id = ?)`,
				uid, uid, uid, uid, uid)
		}
	}

	var rows []documentRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, "SELECT "+documentColumns+" FROM documents"+w.String()+" ORDER BY created_at DESC", w.args...); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}

	docs := make([]document.Document, 0, len(rows))
	for _, row := range rows {
		doc := document.Document(row)
		doc.CreatedAt = doc.CreatedAt.UTC()
		docs = append(docs, doc)
	}
	return docs, nil
}

func (repo documentRepository) GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (document.Document, error) {
	var row documentRow
	if err := getRow(ctx, repo.getExec(exec), &row, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id); err != nil {
		return document.Document{}, trapNoRowsErr(err, document.ErrNotFound, "finding document")
	}
	doc := document.Document(row)
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc, nil
}

func (repo documentRepository) DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return execOne(ctx, repo.getExec(exec), document.ErrNotFound, "deleting document", "DELETE FROM documents WHERE id = ?", id)
}
