package document

import (
	"io"
	"path"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
)

type Document struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	LeaseID       null.String `json:"lease_id"`
	MaintenanceID null.String `json:"maintenance_id"`
	Name          string      `json:"name"`
	ContentType   string      `json:"content_type"`
	Size          int64       `json:"size"`
	StorageKey    string      `json:"-"`
	CreatedAt     time.Time   `json:"created_at"` // UTC
}

// NewDocument describes an upload; the content is passed separately.
type NewDocument struct {
	LeaseID       string `json:"lease_id" form:"lease_id" validate:"omitempty,uuid"`
	MaintenanceID string `json:"maintenance_id" form:"maintenance_id" validate:"omitempty,uuid"`
	Name          string `json:"file" form:"-" validate:"required,max=255"`
	ContentType   string `json:"-" form:"-"`
	Size          int64  `json:"-" form:"-"`
}

// cleanName strips any directory part from an uploaded file name.
// It returns "" when nothing usable as a file name is left.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

type QueryFilter struct {
	LeaseID       string   `query:"lease_id"`
	MaintenanceID string   `query:"maintenance_id"`
	OwnerID       string   `query:"-"`
	IDs           []string `query:"-"`

	// VisibleTo restricts to the documents the user owns or that are attached to their leases or requests.
	VisibleTo string `query:"-"`
}

// Download is either a URL to redirect to or a stream to copy.
type Download struct {
	URL string
	// Body must be closed by the caller when set.
	Body io.ReadCloser
}
