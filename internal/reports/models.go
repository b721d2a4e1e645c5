package reports

import (
	"errors"
	"time"
)

const (
	FormatCSV = "csv"
	FormatPDF = "pdf"

	defaultExportLimit = 1000
	maxExportLimit     = 5000
)

var (
	ErrInvalidFormat     = errors.New("format must be csv or pdf")
	ErrInvalidMealType   = errors.New("invalid meal_type")
	ErrUploadUnavailable = errors.New("export upload requires blob storage")
)

// ExportRequest selects which pooled meals go into an export.
type ExportRequest struct {
	CountryCode string
	MealType    string
	Format      string
	Limit       int
}

// Export is a rendered file ready to stream or upload.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
	MealCount   int
}

// ExportDTO describes an uploaded export.
type ExportDTO struct {
	Format      string    `json:"format"`
	ObjectKey   string    `json:"object_key"`
	DownloadURL string    `json:"download_url"`
	SizeBytes   int64     `json:"size_bytes"`
	MealCount   int       `json:"meal_count"`
	CreatedAt   time.Time `json:"created_at"`
}
