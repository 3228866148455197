package document

import (
	"context"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/maintenance"
	"github.com/trezcool/nyumba/core/user"
)

var (
	// errors
	ErrNotFound = core.NewNotFoundError("document")
)

type (
	Repository interface {
		CreateDocument(ctx context.Context, doc Document, exec ...core.DBExecutor) (Document, error)
		QueryDocuments(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Document, error)
		GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (Document, error)
		DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// BlobStore keeps document contents by key.
	BlobStore interface {
		Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
		Get(ctx context.Context, key string) (io.ReadCloser, error)
		// URL returns a temporary download URL, or "" when the store only streams contents.
		URL(ctx context.Context, key, filename string) (string, error)
		Delete(ctx context.Context, key string) error
	}

	Service interface {
		Upload(ctx context.Context, actor user.User, nd NewDocument, r io.Reader) (Document, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter) ([]Document, error)
		Get(ctx context.Context, actor user.User, id string) (Document, error)
		Open(ctx context.Context, actor user.User, doc Document) (Download, error)
		Delete(ctx context.Context, actor user.User, doc Document) error
	}

	service struct {
		repo     Repository
		store    BlobStore
		leaseSvc lease.Service
		maintSvc maintenance.Service
		logger   core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, store BlobStore, leaseSvc lease.Service, maintSvc maintenance.Service, logger core.Logger) Service {
	return &service{repo: repo, store: store, leaseSvc: leaseSvc, maintSvc: maintSvc, logger: logger}
}

func storageKey(ownerID, docID, name string) string {
	return path.Join("documents", ownerID, docID, name)
}

func (svc *service) Upload(ctx context.Context, actor user.User, nd NewDocument, r io.Reader) (Document, error) {
	nd.Name = cleanName(nd.Name)
	if nd.Name == "" {
		return Document{}, core.NewFieldError("file", "invalid file name")
	}

	doc := Document{
		ID:          uuid.New().String(),
		OwnerID:     actor.ID,
		Name:        nd.Name,
		ContentType: nd.ContentType,
		Size:        nd.Size,
		CreatedAt:   core.NowFunc().UTC(),
	}
	if doc.ContentType == "" {
		doc.ContentType = "application/octet-stream"
	}
	if nd.LeaseID != "" {
		if _, err := svc.leaseSvc.Get(ctx, actor, nd.LeaseID); err != nil {
			if core.IsNotFound(err) {
				return Document{}, core.NewFieldError("lease_id", "lease not found")
			}
			return Document{}, errors.Wrap(err, "finding lease")
		}
		doc.LeaseID.SetValid(nd.LeaseID)
	}
	if nd.MaintenanceID != "" {
		if _, err := svc.maintSvc.Get(ctx, actor, nd.MaintenanceID); err != nil {
			if core.IsNotFound(err) {
				return Document{}, core.NewFieldError("maintenance_id", "maintenance request not found")
			}
			return Document{}, errors.Wrap(err, "finding maintenance request")
		}
		doc.MaintenanceID.SetValid(nd.MaintenanceID)
	}

	doc.StorageKey = storageKey(doc.OwnerID, doc.ID, doc.Name)
	if err := svc.store.Put(ctx, doc.StorageKey, r, doc.Size, doc.ContentType); err != nil {
		return Document{}, errors.Wrap(err, "storing document")
	}
	created, err := svc.repo.CreateDocument(ctx, doc)
	if err != nil {
		if dErr := svc.store.Delete(ctx, doc.StorageKey); dErr != nil {
			svc.logger.Error("removing orphan document: "+dErr.Error(), dErr)
		}
		return Document{}, errors.Wrap(err, "saving document")
	}
	return created, nil
}

func (svc *service) scope(actor user.User, filter *QueryFilter) *QueryFilter {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if !actor.IsAdmin() {
		filter.VisibleTo = actor.ID
	}
	return filter
}

func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter) ([]Document, error) {
	return svc.repo.QueryDocuments(ctx, svc.scope(actor, filter))
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Document, error) {
	if actor.IsAdmin() {
		return svc.repo.GetDocument(ctx, id)
	}
	docs, err := svc.repo.QueryDocuments(ctx, svc.scope(actor, &QueryFilter{IDs: []string{id}}))
	if err != nil {
		return Document{}, errors.Wrap(err, "querying documents")
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

// Open returns a presigned URL when the store has one, the content stream otherwise.
func (svc *service) Open(ctx context.Context, actor user.User, doc Document) (Download, error) {
	url, err := svc.store.URL(ctx, doc.StorageKey, doc.Name)
	if err != nil {
		return Download{}, errors.Wrap(err, "signing url")
	}
	if url != "" {
		return Download{URL: url}, nil
	}
	body, err := svc.store.Get(ctx, doc.StorageKey)
	if err != nil {
		return Download{}, errors.Wrap(err, "opening document")
	}
	return Download{Body: body}, nil
}

func (svc *service) Delete(ctx context.Context, actor user.User, doc Document) error {
	if !(actor.IsAdmin() || actor.ID == doc.OwnerID) {
		return core.ErrPermissionDenied
	}
	if err := svc.repo.DeleteDocument(ctx, doc.ID); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if err := svc.store.Delete(ctx, doc.StorageKey); err != nil {
		svc.logger.Error("removing document content: "+err.Error(), err)
	}
	return nil
}
