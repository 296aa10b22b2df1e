package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcribePrompt asks the model for a faithful transcription rather than
// interpretation; the line parser downstream does the structuring.
const transcribePrompt = `You are transcribing a photographed receipt. Read every line of text in the image and return it exactly as printed, one receipt line per output line, top to bottom. Keep item names and prices on the same line, separated by the spacing you see. Do not summarize, do not add commentary, do not use markdown code blocks. Return only the transcribed lines.`

// Gemini implements Engine using Google Gemini's vision capability as a
// hosted OCR alternative to a local Tesseract install.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini engine.
func NewGemini(apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Recognize sends the image to Gemini and returns the transcribed text. The
// API offers no streaming progress for a single vision call, so the callback
// sees only start and end.
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, onProgress ProgressFunc) (string, error) {
	report(onProgress, 0)

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// The preprocessor always hands over JPEG.
	parts := []genai.Part{
		genai.ImageData("jpeg", imageData),
		genai.Text(transcribePrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RecognitionError{Engine: "gemini", Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &RecognitionError{Engine: "gemini", Err: fmt.Errorf("empty response")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := strings.TrimSpace(text.String())
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")

	report(onProgress, 1)
	return strings.TrimSpace(out), nil
}

// Close closes the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
