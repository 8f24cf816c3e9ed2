package dms

import "time"

// Document is the DMS's view of one stored document, limited to the
// attributes the processing core reads and writes.
type Document struct {
	ID            int                `json:"id"`
	Title         string             `json:"title"`
	Correspondent *int               `json:"correspondent"`
	DocumentType  *int               `json:"document_type"`
	Tags          []int              `json:"tags"`
	CustomFields  []CustomFieldValue `json:"custom_fields"`
	Content       string             `json:"content"`
	Created       time.Time          `json:"created"`
}

// CustomFieldValue is one {field, value} pair on a document.
type CustomFieldValue struct {
	Field int `json:"field"`
	Value any `json:"value"`
}

// DocumentPatch updates selected document attributes. Nil fields are left
// untouched by the DMS.
type DocumentPatch struct {
	Title         *string             `json:"title,omitempty"`
	Correspondent *int                `json:"correspondent,omitempty"`
	DocumentType  *int                `json:"document_type,omitempty"`
	Tags          *[]int              `json:"tags,omitempty"`
	CustomFields  *[]CustomFieldValue `json:"custom_fields,omitempty"`
	Content       *string             `json:"content,omitempty"`
}

// Tag is a DMS tag. DocumentCount is populated on list endpoints.
type Tag struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Color         string `json:"color,omitempty"`
	DocumentCount int    `json:"document_count"`
}

// Correspondent is a DMS correspondent entity.
type Correspondent struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

// DocumentType is a DMS document-type entity.
type DocumentType struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

// CustomField describes one custom-field definition in the DMS schema.
type CustomField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// EntityKind selects which DMS entity collection an operation targets.
type EntityKind string

const (
	EntityTag           EntityKind = "tag"
	EntityCorrespondent EntityKind = "correspondent"
	EntityDocumentType  EntityKind = "document_type"
)

func (k EntityKind) path() string {
	switch k {
	case EntityTag:
		return "tags"
	case EntityCorrespondent:
		return "correspondents"
	case EntityDocumentType:
		return "document_types"
	default:
		return ""
	}
}

// Entity is the kind-independent shape merge and delete operations work on.
type Entity struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}
