package domain

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// DocumentOrigin records where a document came from.
type DocumentOrigin struct {
	Channel  Channel `json:"channel"`
	SourceID string  `json:"source_id,omitempty"`
	Sender   string  `json:"sender,omitempty"`
}

type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	MimeType     string         `json:"mime_type"`
	SizeBytes    int64          `json:"size_bytes"`
	StoragePath  string         `json:"storage_path"`
	Origin       DocumentOrigin `json:"origin"`
	Summary      *Summary       `json:"summary,omitempty"`
	UsedFallback bool           `json:"used_fallback"`
	TaskCount    int            `json:"task_count"`
	Status       DocumentStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ExtractedDocument is the text derived from one attachment or upload.
type ExtractedDocument struct {
	Text      string `json:"text"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLS  = "application/vnd.ms-excel"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeText = "text/plain"
	MimeCSV  = "text/csv"
)

var supportedMimeTypes = map[string]bool{
	MimePDF:  true,
	MimeDOC:  true,
	MimeDOCX: true,
	MimeXLS:  true,
	MimeXLSX: true,
	MimeText: true,
	MimeCSV:  true,
}

var mimeByExtension = map[string]string{
	".pdf":  MimePDF,
	".doc":  MimeDOC,
	".docx": MimeDOCX,
	".xls":  MimeXLS,
	".xlsx": MimeXLSX,
	".txt":  MimeText,
	".csv":  MimeCSV,
}

// IsSupportedMimeType reports whether text can be extracted from the mime type.
func IsSupportedMimeType(mimeType string) bool {
	return supportedMimeTypes[mimeType]
}

// NormalizeMimeType strips parameters and lowercases the type. Generic or
// missing types are resolved from the filename extension when possible.
func NormalizeMimeType(mimeType, filename string) string {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(normalized); err == nil {
		normalized = parsed
	}
	switch normalized {
	case "", "application/octet-stream", "binary/octet-stream", "application/x-download":
		if byExt, ok := mimeByExtension[strings.ToLower(filepath.Ext(filename))]; ok {
			return byExt
		}
	}
	return normalized
}
