package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ParseResult holds the extracted text and metadata from a document.
type ParseResult struct {
	Text     string   `json:"text"`
	Pages    int      `json:"pages"`
	Entities []Entity `json:"entities,omitempty"`
}

// Entity represents a detected entity in the document (e.g. date, person, amount).
type Entity struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// DocumentAIClient abstracts Document AI operations for testability.
type DocumentAIClient interface {
	ProcessDocument(ctx context.Context, processor string, gcsURI string, mimeType string) (*DocumentAIResponse, error)
}

// DocumentAIResponse is the parsed result from Document AI.
type DocumentAIResponse struct {
	Text     string
	Pages    int
	Entities []Entity
}

// ObjectDownloader abstracts downloading an object from Cloud Storage.
type ObjectDownloader interface {
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// VisionClient abstracts an LLM vision call, used by ImageReader to OCR/
// describe an uploaded image — no dedicated image pipeline exists, so every
// image always routes through this.
type VisionClient interface {
	DescribeImage(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// OCRProgressFunc reports page-level progress from an OCR reader. page is
// the 1-based page just completed; total is the document's page count.
type OCRProgressFunc func(page, total int)

// ReaderName identifies which reader strategy handled a document, recorded
// for logging and failure messages.
type ReaderName string

const (
	ReaderOcrPdf  ReaderName = "OcrPdfReader"
	ReaderFastPdf ReaderName = "FastPdfReader"
	ReaderDocx    ReaderName = "DocxReader"
	ReaderImage   ReaderName = "ImageReader"
	ReaderText    ReaderName = "TextReader"
)

// ParserService dispatches a stored document to the reader appropriate for
// its MIME/extension: OcrPdfReader/FastPdfReader for PDFs, DocxReader for
// .docx, ImageReader (always OCR via LLM vision) for images, and TextReader
// for plain text/markdown/json.
type ParserService struct {
	client     DocumentAIClient
	processor  string // projects/{project}/locations/{loc}/processors/{id}
	downloader ObjectDownloader
	vision     VisionClient
	bucketName string
}

// NewParserService creates a ParserService. downloader is required for every
// reader except OcrPdfReader (which operates on the GCS URI directly);
// vision is required only for ImageReader.
func NewParserService(client DocumentAIClient, processor string, downloader ObjectDownloader, vision VisionClient, bucketName string) *ParserService {
	return &ParserService{
		client:     client,
		processor:  processor,
		downloader: downloader,
		vision:     vision,
		bucketName: bucketName,
	}
}

// Extract routes a document stored in GCS to its reader and returns the
// extracted text, page count, and (for OcrPdfReader) any detected entities.
// useOCR forces the OCR PDF path even when a fast native extraction would
// otherwise be tried first; onProgress is called once per page for OCR
// reads and may be nil.
func (s *ParserService) Extract(ctx context.Context, gcsURI string, useOCR bool, onProgress OCRProgressFunc) (*ParseResult, error) {
	if gcsURI == "" {
		return nil, fmt.Errorf("service.Extract: gcsURI is empty")
	}

	ext := strings.ToLower(filepath.Ext(gcsURI))

	switch {
	case ext == ".docx":
		return s.readDocx(ctx, gcsURI)
	case isTextBasedFormat(ext):
		return s.readText(ctx, gcsURI)
	case isImageFormat(ext):
		return s.readImage(ctx, gcsURI)
	case useOCR:
		return s.readOcrPdf(ctx, gcsURI, onProgress)
	default:
		result, err := s.readFastPdf(ctx, gcsURI)
		if err == nil && strings.TrimSpace(result.Text) != "" {
			return result, nil
		}
		// FastPdfReader found no text layer (commonly a scanned PDF) — fall
		// through to OCR rather than reporting a spurious empty-output error.
		slog.Info("fast pdf extraction yielded no text, falling back to OCR", "gcs_uri", gcsURI, "fast_err", err)
		return s.readOcrPdf(ctx, gcsURI, onProgress)
	}
}

// isTextBasedFormat returns true for file extensions that are plain text
// and should be read directly from GCS rather than sent through a reader
// that expects binary structure.
func isTextBasedFormat(ext string) bool {
	switch ext {
	case ".txt", ".md", ".csv", ".json", ".log", ".xml", ".yaml", ".yml", ".html", ".htm":
		return true
	}
	return false
}

// isImageFormat returns true for file extensions ImageReader handles.
func isImageFormat(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// readText is TextReader: a direct GCS download and UTF-8 decode.
func (s *ParserService) readText(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("service.Extract: TextReader requires ObjectDownloader (not configured)")
	}

	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: %w", err)
	}

	slog.Info("TextReader extracting", "gcs_uri", gcsURI)

	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: TextReader download: %w", err)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("service.Extract: TextReader found an empty file")
	}

	slog.Info("TextReader extracted", "chars", len(text), "gcs_uri", gcsURI)
	return &ParseResult{Text: text, Pages: 1}, nil
}

// readDocx is DocxReader: download, then native ZIP+XML extraction.
func (s *ParserService) readDocx(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("service.Extract: DocxReader requires ObjectDownloader (not configured)")
	}

	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: %w", err)
	}

	slog.Info("DocxReader extracting", "gcs_uri", gcsURI)

	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: DocxReader download: %w", err)
	}

	text, err := extractDocxText(data)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: DocxReader parse: %w", err)
	}

	slog.Info("DocxReader extracted", "chars", len(text), "gcs_uri", gcsURI)
	return &ParseResult{Text: text, Pages: 1}, nil
}

// readImage is ImageReader: every image always routes through LLM vision,
// since there is no dedicated image-text pipeline.
func (s *ParserService) readImage(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("service.Extract: ImageReader requires ObjectDownloader (not configured)")
	}
	if s.vision == nil {
		return nil, fmt.Errorf("service.Extract: ImageReader requires a VisionClient (not configured)")
	}

	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: %w", err)
	}

	slog.Info("ImageReader extracting via vision", "gcs_uri", gcsURI)

	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: ImageReader download: %w", err)
	}

	text, err := s.vision.DescribeImage(ctx, data, detectMimeType(gcsURI))
	if err != nil {
		return nil, fmt.Errorf("service.Extract: ImageReader vision call: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("service.Extract: ImageReader vision call returned no text")
	}

	slog.Info("ImageReader extracted", "chars", len(text), "gcs_uri", gcsURI)
	return &ParseResult{Text: text, Pages: 1}, nil
}

// readFastPdf is FastPdfReader: reads the PDF's embedded text layer
// natively (github.com/ledongthuc/pdf), with no Document AI round-trip.
// Returns an empty-text ParseResult (not an error) for a scanned PDF with
// no text layer, letting the caller decide whether to fall back to OCR.
func (s *ParserService) readFastPdf(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("service.Extract: FastPdfReader requires ObjectDownloader (not configured)")
	}

	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: %w", err)
	}

	slog.Info("FastPdfReader extracting", "gcs_uri", gcsURI)

	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: FastPdfReader download: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("service.Extract: FastPdfReader open: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // a single unreadable page doesn't fail the whole document
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
	}

	slog.Info("FastPdfReader extracted", "chars", buf.Len(), "pages", numPages, "gcs_uri", gcsURI)
	return &ParseResult{Text: buf.String(), Pages: numPages}, nil
}

// readOcrPdf is OcrPdfReader: runs the document through Document AI, with a
// direct-download text fallback if Document AI fails or returns nothing.
// Document AI's synchronous API returns the whole document at once rather
// than streaming page-by-page, so onProgress fires once per page after
// extraction completes — it still gives pollers visible per-page movement
// without requiring the batch/async Document AI API.
func (s *ParserService) readOcrPdf(ctx context.Context, gcsURI string, onProgress OCRProgressFunc) (*ParseResult, error) {
	mimeType := detectMimeType(gcsURI)

	resp, err := s.client.ProcessDocument(ctx, s.processor, gcsURI, mimeType)
	if err != nil {
		slog.Warn("OcrPdfReader failed, attempting direct download fallback",
			"gcs_uri", gcsURI, "mime_type", mimeType, "error", err)
		return s.readFallback(ctx, gcsURI, err)
	}
	if resp.Text == "" {
		slog.Warn("OcrPdfReader returned empty text, attempting direct download fallback",
			"gcs_uri", gcsURI, "mime_type", mimeType)
		return s.readFallback(ctx, gcsURI, fmt.Errorf("document ai returned empty text"))
	}

	if onProgress != nil {
		for page := 1; page <= resp.Pages; page++ {
			onProgress(page, resp.Pages)
		}
	}

	return &ParseResult{Text: resp.Text, Pages: resp.Pages, Entities: resp.Entities}, nil
}

// readFallback attempts direct GCS download when Document AI fails.
// Only succeeds if the downloaded content is valid UTF-8 text (not binary).
func (s *ParserService) readFallback(ctx context.Context, gcsURI string, origErr error) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("service.Extract: OcrPdfReader failed and no fallback available: %w", origErr)
	}

	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: OcrPdfReader failed: %w", origErr)
	}

	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("service.Extract: OcrPdfReader failed and fallback download failed: %w", origErr)
	}

	text := string(data)
	if !isLikelyText(text) {
		return nil, fmt.Errorf("service.Extract: OcrPdfReader failed for a binary file the fallback cannot parse — try re-uploading or use a text export: %w", origErr)
	}

	slog.Info("fallback text extraction succeeded", "chars", len(text), "gcs_uri", gcsURI)
	return &ParseResult{Text: text, Pages: 1}, nil
}

// isLikelyText checks whether content is readable text rather than binary data.
func isLikelyText(s string) bool {
	if len(s) == 0 {
		return false
	}
	sample := s
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if !utf8.ValidString(sample) {
		return false
	}
	nonPrintable := 0
	total := 0
	for _, r := range sample {
		total++
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			nonPrintable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(nonPrintable)/float64(total) < 0.05
}

// parseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func parseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("empty GCS URI")
	}
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI %q: must start with gs://", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	idx := strings.Index(trimmed, "/")
	if idx < 0 || idx == 0 {
		return "", "", fmt.Errorf("invalid GCS URI %q: missing object path", uri)
	}
	return trimmed[:idx], trimmed[idx+1:], nil
}

// detectMimeType infers the MIME type from a GCS URI's file extension.
func detectMimeType(gcsURI string) string {
	ext := strings.ToLower(filepath.Ext(gcsURI))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
