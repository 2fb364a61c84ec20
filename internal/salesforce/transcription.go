package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// Transcriber proxies audio to the Einstein speech-to-text service.
type Transcriber struct {
	endpoint   string
	httpClient *http.Client
}

// NewTranscriber creates a transcriber targeting the given endpoint.
func NewTranscriber(endpoint string) *Transcriber {
	return &Transcriber{
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

type transcriptionResponse struct {
	Transcription []string `json:"transcription"`
}

// Transcribe sends an audio file for transcription and returns the text
// segments. The caller supplies the bearer token so the browser-held token
// is reused rather than minting a new one.
func (t *Transcriber) Transcribe(ctx context.Context, token string, audio io.Reader, filename, contentType, language string) ([]string, error) {
	if language == "" {
		language = "english"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="input"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create audio part: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.WriteField("engine", "internal"); err != nil {
		return nil, fmt.Errorf("write engine field: %w", err)
	}
	if err := mw.WriteField("language", language); err != nil {
		return nil, fmt.Errorf("write language field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-sfdc-app-context", "EinsteinGPT")
	req.Header.Set("x-client-feature-id", "external-edc")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("transcription failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return tr.Transcription, nil
}
