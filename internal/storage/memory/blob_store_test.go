package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "shop.example/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://shop.example/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("shop.example/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := store.Object("shop.example/page.html")
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"shop.example/page.html"}, store.Paths())
}
