// Package docgen fills document templates with delivery-order contents and
// barcode labels.
package docgen

import "context"

// TemplateClient is the document-templating surface the generator needs:
// copy a template, batch-replace placeholder text, swap a placeholder for an
// inline image, and drop table rows whose placeholders were never filled.
type TemplateClient interface {
	CopyTemplate(ctx context.Context, templateID string, folderID string, name string) (string, error)
	ReplaceText(ctx context.Context, docID string, replacements map[string]string) error
	ReplaceWithImage(ctx context.Context, docID string, placeholder string, imageURL string) error
	DeletePlaceholderRows(ctx context.Context, docID string) error
}
