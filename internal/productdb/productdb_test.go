package productdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchDecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/07ee4bb3b889", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Record{
			GTIN:         "07ee4bb3b889",
			Manufacturer: "Tridonic",
			ProductName:  "LCAI OTi",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rec, err := c.Fetch(context.Background(), 0x07ee4bb3b889)
	require.NoError(t, err)
	assert.Equal(t, "Tridonic", rec.Manufacturer)
	assert.Equal(t, "LCAI OTi", rec.ProductName)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Fetch(context.Background(), 0x1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchServerErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Fetch(context.Background(), 0x1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}
