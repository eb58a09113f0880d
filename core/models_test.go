package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ModelID
		wantErr bool
	}{
		{
			name:  "namespace and name",
			input: "openai/clip-vit-base-patch32",
			want:  ModelID{Namespace: "openai", Name: "clip-vit-base-patch32", Revision: DefaultRevision},
		},
		{
			name:  "pinned revision",
			input: "openai/clip-vit-base-patch32@v1.0",
			want:  ModelID{Namespace: "openai", Name: "clip-vit-base-patch32", Revision: "v1.0"},
		},
		{
			name:  "surrounding whitespace",
			input: "  acme/encoder ",
			want:  ModelID{Namespace: "acme", Name: "encoder", Revision: DefaultRevision},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "missing namespace", input: "encoder", wantErr: true},
		{name: "too many segments", input: "a/b/c", wantErr: true},
		{name: "path traversal", input: "../etc", wantErr: true},
		{name: "dot segment", input: "acme/..", wantErr: true},
		{name: "empty revision", input: "acme/encoder@", wantErr: true},
		{name: "double dash", input: "acme/enc--oder", wantErr: true},
		{name: "space in name", input: "acme/my model", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModelID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidModelID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelID_Names(t *testing.T) {
	id := MustParseModelID("openai/clip-vit-base-patch32")
	assert.Equal(t, "openai/clip-vit-base-patch32", id.String())
	assert.Equal(t, "models--openai--clip-vit-base-patch32", id.CacheDirName())

	pinned := MustParseModelID("openai/clip-vit-base-patch32@abc123")
	assert.Equal(t, "openai/clip-vit-base-patch32@abc123", pinned.String())
	assert.Equal(t, "models--openai--clip-vit-base-patch32--abc123", pinned.CacheDirName())
	assert.Equal(t, "openai/clip-vit-base-patch32", pinned.Repo())
}

func TestMustParseModelID_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseModelID("nope") })
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))

	flat := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Multiplier: 0}
	assert.Equal(t, time.Millisecond, flat.Delay(3), "multiplier below 1 keeps delay constant")
}

func TestProxyConfig_IsZero(t *testing.T) {
	var nilProxy *ProxyConfig
	assert.True(t, nilProxy.IsZero())
	assert.True(t, (&ProxyConfig{NoProxy: "localhost"}).IsZero())
	assert.False(t, (&ProxyConfig{HTTPS: "http://proxy:3128"}).IsZero())
}

func TestInputKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("same bytes"), 0644))

	fromFile, err := InputKey(InputFromPath(path))
	require.NoError(t, err)

	fromData, err := InputKey(Input{Name: "other", Data: []byte("same bytes")})
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromData, "key depends on content only")

	different, err := InputKey(Input{Data: []byte("other bytes")})
	require.NoError(t, err)
	assert.NotEqual(t, fromFile, different)

	_, err = InputKey(InputFromPath(filepath.Join(dir, "missing.png")))
	require.Error(t, err)
}

func TestInput_OpenWithoutSource(t *testing.T) {
	_, err := Input{Name: "empty"}.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestInput_Label(t *testing.T) {
	assert.Equal(t, "/tmp/a.png", Input{Path: "/tmp/a.png"}.Label())
	assert.Equal(t, "named", Input{Name: "named", Path: "/tmp/a.png"}.Label())
}
