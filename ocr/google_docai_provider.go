package ocr

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GoogleDocAIProvider implements OCR using Google Document AI
type GoogleDocAIProvider struct {
	projectID   string
	location    string
	processorID string
	client      *documentai.DocumentProcessorClient
}

func newGoogleDocAIProvider(config Config) (*GoogleDocAIProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"location":     config.GoogleLocation,
		"processor_id": config.GoogleProcessorID,
	})
	logger.Info("Creating new Google Document AI provider")

	ctx := context.Background()
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.GoogleLocation)

	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		logger.WithError(err).Error("Failed to create Document AI client")
		return nil, fmt.Errorf("error creating Document AI client: %w", err)
	}

	logger.Info("Successfully initialized Google Document AI provider")
	return &GoogleDocAIProvider{
		projectID:   config.GoogleProjectID,
		location:    config.GoogleLocation,
		processorID: config.GoogleProcessorID,
		client:      client,
	}, nil
}

func (p *GoogleDocAIProvider) ProcessImage(ctx context.Context, imageContent []byte) (*Result, error) {
	logger := log.WithFields(logrus.Fields{
		"project_id":   p.projectID,
		"location":     p.location,
		"processor_id": p.processorID,
	})
	logger.Debug("Starting Document AI processing")

	mtype := mimetype.Detect(imageContent).String()
	if !isImageMIMEType(mtype) {
		logger.WithField("mime_type", mtype).Error("Unsupported file type")
		return nil, fmt.Errorf("unsupported file type: %s", mtype)
	}

	resp, err := p.client.ProcessDocument(ctx, p.processRequest(imageContent, mtype))
	if err != nil {
		logger.WithError(err).Error("Failed to process document")
		return nil, fmt.Errorf("error processing document: %w", err)
	}

	result, err := documentResult(resp, mtype, p.processorID)
	if err != nil {
		logger.WithError(err).Error("Document AI returned no usable document")
		return nil, err
	}
	logger.WithField("content_length", len(result.Text)).Debug("Successfully processed image")
	return result, nil
}

func (p *GoogleDocAIProvider) processRequest(content []byte, mimeType string) *documentaipb.ProcessRequest {
	return &documentaipb.ProcessRequest{
		Name: fmt.Sprintf("projects/%s/locations/%s/processors/%s", p.projectID, p.location, p.processorID),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}
}

// documentResult turns a Document AI response into a Result.
func documentResult(resp *documentaipb.ProcessResponse, mimeType, processorID string) (*Result, error) {
	if resp == nil || resp.Document == nil {
		return nil, fmt.Errorf("received nil response or document from Document AI")
	}
	doc := resp.Document
	if doc.Error != nil {
		return nil, fmt.Errorf("document processing error: %s", doc.Error.Message)
	}

	metadata := map[string]string{
		"provider":     "google_docai",
		"mime_type":    mimeType,
		"processor_id": processorID,
		"lines":        fmt.Sprintf("%d", lineCount(doc)),
	}
	if pages := doc.GetPages(); len(pages) > 0 {
		if langs := pages[0].GetDetectedLanguages(); len(langs) > 0 {
			metadata["lang_code"] = langs[0].GetLanguageCode()
		}
	}

	return &Result{
		Text:     strings.TrimRight(doc.GetText(), "\n"),
		Metadata: metadata,
	}, nil
}

func lineCount(doc *documentaipb.Document) int {
	n := 0
	for _, page := range doc.GetPages() {
		n += len(page.GetLines())
	}
	return n
}

// isImageMIMEType checks if the given MIME type is a supported image type
func isImageMIMEType(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/tiff", "image/bmp", "image/gif", "image/webp":
		return true
	}
	return false
}

// Close releases resources used by the provider
func (p *GoogleDocAIProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
