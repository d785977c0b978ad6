package gcp

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://lab-uploads/2024/03/befund.pdf")
	require.NoError(t, err)
	assert.Equal(t, "lab-uploads", bucket)
	assert.Equal(t, "2024/03/befund.pdf", object)

	for _, bad := range []string{"", "lab-uploads/befund.pdf", "gs://", "gs://bucket", "gs://bucket/", "gs:///object", "https://storage.googleapis.com/b/o"} {
		_, _, err := ParseGCSURI(bad)
		assert.ErrorIs(t, err, ErrInvalidGCSURI, bad)
	}
}

func TestExtractText(t *testing.T) {
	assert.Equal(t, "", extractText(nil))
	assert.Equal(t, "", extractText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("Leukozyten 6,8 G/l 4,0-10,0\n"),
				genai.Blob{MIMEType: "image/png"},
				genai.Text("Ferritin 12 µg/l > 15\n"),
			}},
		}},
	}
	assert.Equal(t, "Leukozyten 6,8 G/l 4,0-10,0\nFerritin 12 µg/l > 15\n", extractText(resp))
}
