package httputil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadBody(t *testing.T) {
	t.Run("keeps at most the limit", func(t *testing.T) {
		body := ReadBody(strings.NewReader(strings.Repeat("x", 100)), 10)
		require.Len(t, body, 10)
	})

	t.Run("short bodies are read whole", func(t *testing.T) {
		body := ReadBody(strings.NewReader("hello"), 10)
		require.Equal(t, "hello", string(body))
	})
}

func TestCloseResponse(t *testing.T) {
	// nil responses and nil bodies must not panic
	CloseResponse(nil)
	CloseResponse(&http.Response{})
}
