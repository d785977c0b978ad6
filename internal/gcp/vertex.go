package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

const TranscriberSystemPrompt = "You are a transcription tool for German laboratory reports. You copy the result table of a PDF into plain text. You never interpret, summarize or comment on results."
const TranscriberUserPrompt = `You will be provided with a laboratory report as a PDF document.

Follow these instructions to transcribe the result table:

1.  Write exactly one line per measured value: test name, result, unit and reference range, separated by single spaces.
2.  Copy numbers exactly as printed, including decimal commas and comparison signs such as "<" or ">".
3.  Keep markers printed next to a result, such as "*", "+", "H" or "L", directly after the result.
4.  Leave out addresses, patient data, page numbers, signatures and free-text comments.
5.  Keep the order of the report.

Return ONLY the transcribed lines. Do not add headings, explanations or backtick fences.`

// VertexClient holds the generative model used for transcription.
type VertexClient struct {
	TranscriberModel *genai.GenerativeModel
	baseClient       *genai.Client
}

// NewVertexClient creates a new client holding the transcription model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	transcriberModel := baseClient.GenerativeModel(modelName)
	transcriberModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriberSystemPrompt)},
	}
	transcriberModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	transcriberModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		TranscriberModel: transcriberModel,
		baseClient:       baseClient,
	}, nil
}

// Transcribe sends the PDF inline and returns the concatenated text parts.
func (c *VertexClient) Transcribe(ctx context.Context, pdf []byte, mimeType string) (string, error) {
	filePart := genai.Blob{
		MIMEType: mimeType,
		Data:     pdf,
	}
	resp, err := c.TranscriberModel.GenerateContent(ctx, filePart, genai.Text(TranscriberUserPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return extractText(resp), nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
