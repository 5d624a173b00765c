package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/evidtrack/evidence-api/internal/models"
	appErrors "github.com/evidtrack/evidence-api/pkg/errors"
	"github.com/evidtrack/evidence-api/pkg/export"
)

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportFileLister interface {
	ListAllForExport(ctx context.Context, actorID string) ([]models.FileRecord, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportPayload is a rendered inventory ready to stream to the client.
type ExportPayload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders file inventory exports. The inventory honours the
// same visibility scoping as the listing endpoint.
type ExportService struct {
	repo   exportFileLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(repo exportFileLister, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{repo: repo, csv: csv, pdf: pdf, logger: logger}
}

// Inventory renders the actor's visible files as CSV or PDF.
func (s *ExportService) Inventory(ctx context.Context, format ExportFormat, actor *models.JWTClaims) (*ExportPayload, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	actorID := actor.UserID
	if actor.Role == models.RoleAdmin {
		actorID = ""
	}
	records, err := s.repo.ListAllForExport(ctx, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load files for export")
	}

	dataset := buildInventoryDataset(records)
	timestamp := time.Now().UTC().Format("20060102_150405")

	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportPayload{
			Filename:    fmt.Sprintf("file_inventory_%s.csv", timestamp),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(dataset, "File Inventory")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportPayload{
			Filename:    fmt.Sprintf("file_inventory_%s.pdf", timestamp),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func buildInventoryDataset(records []models.FileRecord) export.Dataset {
	headers := []string{"ID", "Name", "Category", "Size (bytes)", "Visibility", "Tags", "Uploader", "Views", "Downloads", "Created At"}
	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, map[string]string{
			"ID":           record.ID,
			"Name":         record.OriginalName,
			"Category":     string(record.Category),
			"Size (bytes)": fmt.Sprintf("%d", record.SizeBytes),
			"Visibility":   string(record.Visibility),
			"Tags":         strings.Join(record.Tags, ","),
			"Uploader":     record.UploaderID,
			"Views":        fmt.Sprintf("%d", record.ViewCount),
			"Downloads":    fmt.Sprintf("%d", record.DownloadCount),
			"Created At":   record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
