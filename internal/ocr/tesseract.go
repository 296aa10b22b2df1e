package ocr

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Engine using a local Tesseract install via gosseract.
// A fresh client is created per call; gosseract clients are not safe for
// concurrent use and each submission is an independent pipeline anyway.
type Tesseract struct {
	language string
}

// NewTesseract creates a Tesseract engine for the given language (for
// example "eng").
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}, nil
}

// Recognize runs Tesseract over the image. Tesseract exposes no incremental
// progress, so the callback only sees the start and end of the run.
func (t *Tesseract) Recognize(ctx context.Context, imageData []byte, onProgress ProgressFunc) (string, error) {
	report(onProgress, 0)

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		client := gosseract.NewClient()
		defer client.Close()

		if err := client.SetLanguage(t.language); err != nil {
			done <- outcome{err: err}
			return
		}
		// Keep column gaps as runs of spaces so the line parser can use
		// them as a signal.
		if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
			done <- outcome{err: err}
			return
		}
		if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
			done <- outcome{err: err}
			return
		}
		if err := client.SetImageFromBytes(imageData); err != nil {
			done <- outcome{err: err}
			return
		}

		text, err := client.Text()
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-done:
		if result.err != nil {
			return "", &RecognitionError{Engine: "tesseract", Err: result.err}
		}
		report(onProgress, 1)
		return result.text, nil
	}
}

// Close is a no-op; clients are per-call.
func (t *Tesseract) Close() error {
	return nil
}
