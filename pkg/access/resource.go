package access

import (
	"fmt"
	"time"
)

// ResourceKind discriminates the resource variants that can carry grants.
type ResourceKind string

const (
	ResourceDocument   ResourceKind = "document"
	ResourceCollection ResourceKind = "collection"
)

func (k ResourceKind) Valid() bool {
	return k == ResourceDocument || k == ResourceCollection
}

// Resource identifies one node of the resource forest. Collections are tree
// roots; documents hang off a collection and optionally off a parent document.
type Resource struct {
	Kind ResourceKind
	ID   string
}

func NewDocumentResource(id string) Resource {
	return Resource{Kind: ResourceDocument, ID: id}
}

func NewCollectionResource(id string) Resource {
	return Resource{Kind: ResourceCollection, ID: id}
}

func (r Resource) IsZero() bool {
	return r.ID == ""
}

func (r Resource) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Collection is the root of one tree in the resource forest.
type Collection struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Document is a nestable resource. ParentDocumentID is empty for documents at
// the top level of their collection.
type Document struct {
	ID               string
	CollectionID     string
	ParentDocumentID string
	Title            string
	CreatedAt        time.Time
}

func (d *Document) Resource() Resource {
	return NewDocumentResource(d.ID)
}

func (c *Collection) Resource() Resource {
	return NewCollectionResource(c.ID)
}
