package input

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/imgembed/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(f), 0644))
	}
	return root
}

func TestCollect_AllImages(t *testing.T) {
	root := writeTree(t, "a.jpg", "b.PNG", "notes.txt", "sub/c.webp", "sub/deeper/d.jpeg", "sub/e.heic")

	c, err := Collect(root, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Total)
	assert.False(t, c.Truncated)
	assert.Equal(t, []string{
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "b.PNG"),
		filepath.Join(root, "sub", "c.webp"),
		filepath.Join(root, "sub", "deeper", "d.jpeg"),
	}, c.Paths())
	assert.Equal(t, c.Inputs[0].Path, c.Inputs[0].Name)
}

func TestCollect_Limit(t *testing.T) {
	root := writeTree(t, "1.png", "2.png", "3.png", "4.png", "5.png")

	c, err := Collect(root, nil, 3)
	require.NoError(t, err)
	assert.Len(t, c.Inputs, 3)
	assert.Equal(t, 5, c.Total)
	assert.True(t, c.Truncated)
}

func TestCollect_Patterns(t *testing.T) {
	root := writeTree(t, "cats/a.png", "cats/b.jpg", "dogs/c.png", "d.png")

	c, err := Collect(root, []string{"*.png"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Total, "simple patterns match at any depth")

	c, err = Collect(root, []string{"cats/**"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Total)

	c, err = Collect(root, []string{"dogs/*", "d.png"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Total, "d.png is normalized to **/d.png")
}

func TestCollect_Errors(t *testing.T) {
	root := writeTree(t, "a.png")

	_, err := Collect(root, []string{"[unclosed"}, 0)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Collect(filepath.Join(root, "a.png"), nil, 0)
	assert.ErrorIs(t, err, core.ErrInvalidPath)

	_, err = Collect(filepath.Join(root, "missing"), nil, 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 15*time.Second, Estimate(100))
	assert.Zero(t, Estimate(0))
}
