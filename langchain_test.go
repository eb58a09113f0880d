package imgembed

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/imgembed/model/linear"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, c color.RGBA) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, linear.EncodePNG(8, 8, c), 0644))
	return path
}

func TestLangchainEmbedder(t *testing.T) {
	hub := newHub(t)
	s := openSession(t, testConfig(hub, t.TempDir()))
	dir := t.TempDir()
	red := writePNG(t, dir, "red.png", color.RGBA{R: 255, A: 255})
	blue := writePNG(t, dir, "blue.png", color.RGBA{B: 255, A: 255})
	gray := writePNG(t, dir, "gray.png", color.RGBA{R: 128, G: 128, B: 128, A: 255})

	embedder, err := NewLangchainEmbedder(s)
	require.NoError(t, err)

	docs, err := embedder.EmbedDocuments(context.Background(), []string{red, blue, gray})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, v := range docs {
		assert.Len(t, v, 8)
	}

	query, err := embedder.EmbedQuery(context.Background(), blue)
	require.NoError(t, err)
	assert.Equal(t, docs[1], query)
}

func TestLangchainEmbedder_FailedImage(t *testing.T) {
	hub := newHub(t)
	s := openSession(t, testConfig(hub, t.TempDir()))
	red := writePNG(t, t.TempDir(), "red.png", color.RGBA{R: 255, A: 255})

	embedder, err := NewLangchainEmbedder(s)
	require.NoError(t, err)

	_, err = embedder.EmbedDocuments(context.Background(), []string{red, filepath.Join(t.TempDir(), "missing.png")})
	assert.Error(t, err)
	assert.ErrorContains(t, err, "missing.png")
}
