package docgen

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GoogleDocsClient implements TemplateClient against Google Docs and Drive.
// Templates are Drive files; edits go through the Docs batchUpdate API.
type GoogleDocsClient struct {
	docs  *docs.Service
	drive *drive.Service
}

func NewGoogleDocsClient(ctx context.Context, credentialsJSON []byte) (*GoogleDocsClient, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}

	docsSvc, err := docs.NewService(ctx, append(opts, option.WithScopes(docs.DocumentsScope))...)
	if err != nil {
		return nil, fmt.Errorf("docs client: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, append(opts, option.WithScopes(drive.DriveScope))...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}

	return &GoogleDocsClient{docs: docsSvc, drive: driveSvc}, nil
}

func (c *GoogleDocsClient) CopyTemplate(ctx context.Context, templateID string, folderID string, name string) (string, error) {
	copied, err := c.drive.Files.Copy(templateID, &drive.File{
		Name:    name,
		Parents: []string{folderID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("copy template %s: %w", templateID, err)
	}
	return copied.Id, nil
}

func (c *GoogleDocsClient) ReplaceText(ctx context.Context, docID string, replacements map[string]string) error {
	if len(replacements) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(replacements))
	for placeholder := range replacements {
		placeholders = append(placeholders, placeholder)
	}
	sort.Strings(placeholders)

	requests := make([]*docs.Request, 0, len(replacements))
	for _, placeholder := range placeholders {
		requests = append(requests, &docs.Request{
			ReplaceAllText: &docs.ReplaceAllTextRequest{
				ContainsText: &docs.SubstringMatchCriteria{
					Text:      placeholder,
					MatchCase: true,
				},
				ReplaceText: replacements[placeholder],
			},
		})
	}

	_, err := c.docs.Documents.BatchUpdate(docID, &docs.BatchUpdateDocumentRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("replace text in %s: %w", docID, err)
	}
	return nil
}

// ReplaceWithImage deletes every occurrence of the placeholder and inserts
// the image at its position. Occurrences are edited from the end of the
// document backwards so earlier indexes stay valid.
func (c *GoogleDocsClient) ReplaceWithImage(ctx context.Context, docID string, placeholder string, imageURL string) error {
	doc, err := c.docs.Documents.Get(docID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get document %s: %w", docID, err)
	}

	starts := findOccurrences(doc.Body.Content, placeholder)
	if len(starts) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(starts)))

	requests := make([]*docs.Request, 0, len(starts)*2)
	for _, start := range starts {
		requests = append(requests,
			&docs.Request{
				DeleteContentRange: &docs.DeleteContentRangeRequest{
					Range: &docs.Range{
						StartIndex: int64(start),
						EndIndex:   int64(start + len(placeholder)),
					},
				},
			},
			&docs.Request{
				InsertInlineImage: &docs.InsertInlineImageRequest{
					Location: &docs.Location{Index: int64(start)},
					Uri:      imageURL,
				},
			},
		)
	}

	_, err = c.docs.Documents.BatchUpdate(docID, &docs.BatchUpdateDocumentRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("insert image in %s: %w", docID, err)
	}
	return nil
}

// DeletePlaceholderRows removes table rows that still contain unfilled
// {{...}} placeholders, bottom-up so row indexes stay valid.
func (c *GoogleDocsClient) DeletePlaceholderRows(ctx context.Context, docID string) error {
	doc, err := c.docs.Documents.Get(docID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get document %s: %w", docID, err)
	}

	type rowRef struct {
		tableStart int64
		rowIndex   int64
	}
	var rows []rowRef

	for _, element := range doc.Body.Content {
		if element.Table == nil {
			continue
		}
		for rowIdx, row := range element.Table.TableRows {
			if rowContainsPlaceholder(row) {
				rows = append(rows, rowRef{tableStart: element.StartIndex, rowIndex: int64(rowIdx)})
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].tableStart == rows[j].tableStart {
			return rows[i].rowIndex > rows[j].rowIndex
		}
		return rows[i].tableStart > rows[j].tableStart
	})

	requests := make([]*docs.Request, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, &docs.Request{
			DeleteTableRow: &docs.DeleteTableRowRequest{
				TableCellLocation: &docs.TableCellLocation{
					TableStartLocation: &docs.Location{Index: row.tableStart},
					RowIndex:           row.rowIndex,
				},
			},
		})
	}

	_, err = c.docs.Documents.BatchUpdate(docID, &docs.BatchUpdateDocumentRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete placeholder rows in %s: %w", docID, err)
	}
	return nil
}

func findOccurrences(content []*docs.StructuralElement, placeholder string) []int {
	var starts []int
	walkTextRuns(content, func(startIndex int64, text string) {
		offset := 0
		for {
			idx := strings.Index(text[offset:], placeholder)
			if idx < 0 {
				break
			}
			starts = append(starts, int(startIndex)+offset+idx)
			offset += idx + len(placeholder)
		}
	})
	return starts
}

func walkTextRuns(content []*docs.StructuralElement, visit func(startIndex int64, text string)) {
	for _, element := range content {
		if element.Paragraph != nil {
			for _, pe := range element.Paragraph.Elements {
				if pe.TextRun != nil {
					visit(pe.StartIndex, pe.TextRun.Content)
				}
			}
		}
		if element.Table != nil {
			for _, row := range element.Table.TableRows {
				for _, cell := range row.TableCells {
					walkTextRuns(cell.Content, visit)
				}
			}
		}
	}
}

func rowContainsPlaceholder(row *docs.TableRow) bool {
	found := false
	for _, cell := range row.TableCells {
		walkTextRuns(cell.Content, func(_ int64, text string) {
			if strings.Contains(text, "{{") {
				found = true
			}
		})
	}
	return found
}
