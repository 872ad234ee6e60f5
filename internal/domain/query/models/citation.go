package models

// CitationKind distinguishes text excerpts from images
type CitationKind string

const (
	CitationText  CitationKind = "text"
	CitationImage CitationKind = "image"
)

// Citation describes one reference used to substantiate part of an answer.
// ID matches the placeholder token "[<ID>]" embedded in answer text.
type Citation struct {
	ID           string       `json:"id"`
	Kind         CitationKind `json:"kind"`
	DocumentID   string       `json:"document_id"`
	DocumentName string       `json:"document_name"`
	Ordinal      int          `json:"ordinal"`
	Content      string       `json:"content,omitempty"`
	ResourceRef  string       `json:"resource_ref,omitempty"`
}

// IsImage reports whether the citation can be rendered as an image reference
func (c Citation) IsImage() bool {
	return c.Kind == CitationImage && c.ResourceRef != ""
}
