package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
)

// DefaultVisionPrompt asks for a faithful description of one page.
const DefaultVisionPrompt = `Describe everything on this page image in detail: text, charts and image elements. State the content directly.
If the page contains tables, also output each table as Markdown. Keep header hierarchy accurate, make every cell line up with its column and do not translate table contents.`

// VisionAnalyzer describes page images with a multimodal model.
type VisionAnalyzer struct {
	client *Client
	prompt string
}

// NewVisionAnalyzer wraps client. An empty prompt selects DefaultVisionPrompt.
func NewVisionAnalyzer(client *Client, prompt string) *VisionAnalyzer {
	if prompt == "" {
		prompt = DefaultVisionPrompt
	}
	return &VisionAnalyzer{client: client, prompt: prompt}
}

// AnalyzeImage returns the model's description of the JPEG at path.
func (v *VisionAnalyzer) AnalyzeImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: v.prompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)}},
		},
	}
	return v.client.Complete(ctx, []Message{msg})
}
