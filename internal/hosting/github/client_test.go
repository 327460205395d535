package github_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/lokalert/apkdist/internal/hosting/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetSize(t *testing.T) {
	t.Parallel()

	t.Run("reads the content length", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			w.Header().Set("Content-Length", strconv.Itoa(52_428_800))
		}))
		t.Cleanup(srv.Close)

		client := github.NewClient(context.Background(), "secret")

		size, err := client.AssetSize(context.Background(), srv.URL+"/releases/assets/1")
		require.NoError(t, err)
		assert.Equal(t, int64(52_428_800), size)
	})

	t.Run("rejects non-2xx responses", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)

		client := github.NewClient(context.Background(), "secret")

		_, err := client.AssetSize(context.Background(), srv.URL+"/releases/assets/1")
		require.Error(t, err)
	})
}
