package gcp

import (
	"context"
	"fmt"

	documentai "cloud.google.com/go/documentai/apiv1"
	"google.golang.org/api/option"
)

// NewDocumentAIClient connects to the regional Document AI endpoint, e.g.
// eu-documentai.googleapis.com for location "eu".
func NewDocumentAIClient(ctx context.Context, location string) (*documentai.DocumentProcessorClient, error) {
	if location == "" {
		return nil, fmt.Errorf("NewDocumentAIClient: location cannot be empty")
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("documentai.NewDocumentProcessorClient(%s): %w", location, err)
	}
	return client, nil
}
