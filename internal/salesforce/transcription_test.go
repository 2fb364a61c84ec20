package salesforce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "EinsteinGPT", r.Header.Get("x-sfdc-app-context"))
		assert.Equal(t, "external-edc", r.Header.Get("x-client-feature-id"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "internal", r.FormValue("engine"))
		assert.Equal(t, "english", r.FormValue("language"))

		file, header, err := r.FormFile("input")
		require.NoError(t, err)
		defer func() {
			_ = file.Close()
		}()
		assert.Equal(t, "clip.webm", header.Filename)
		assert.Equal(t, "audio/webm", header.Header.Get("Content-Type"))

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake audio bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string][]string{
			"transcription": {"hello", "world"},
		}))
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL)
	segments, err := tr.Transcribe(context.Background(), "tok-1",
		strings.NewReader("fake audio bytes"), "clip.webm", "audio/webm", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, segments)
}

func TestTranscribeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL)
	_, err := tr.Transcribe(context.Background(), "tok-1",
		strings.NewReader("x"), "clip.webm", "audio/webm", "german")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
