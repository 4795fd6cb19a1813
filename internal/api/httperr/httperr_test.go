package httperr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeCollectionNotFound, http.StatusNotFound},
		{CodeDocumentNotFound, http.StatusNotFound},
		{CodeFileTooLarge, http.StatusRequestEntityTooLarge},
		{CodeUnsupportedType, http.StatusUnsupportedMediaType},
		{CodeProcessingError, http.StatusInternalServerError},
		{CodeEmbeddingError, http.StatusBadGateway},
		{CodeDatabaseError, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, StatusFor(tc.code), tc.code)
	}
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, CodeCollectionNotFound, "collection not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "collection not found", resp.Error)
	assert.Equal(t, CodeCollectionNotFound, resp.Code)
	assert.False(t, resp.Timestamp.IsZero())
	assert.NotContains(t, rec.Body.String(), "details")
}

func TestWriteDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDetails(rec, CodeInvalidInput, "validation failed", map[string]string{
		"field": "query",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"field":"query"`))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeInvalidInput, resp.Code)
}
