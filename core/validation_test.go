package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		prefixes []string
		wantErr  bool
	}{
		{name: "absolute path", path: "/home/user/photos"},
		{name: "relative path", path: "photos/2024"},
		{name: "relative with inner dots", path: "photos/../albums"},
		{name: "empty", path: "", wantErr: true},
		{name: "parent escape", path: "../secrets", wantErr: true},
		{name: "bare parent", path: "..", wantErr: true},
		{name: "too long", path: "/" + strings.Repeat("a", MaxPathLength), wantErr: true},
		{name: "allowed prefix", path: "/data/photos", prefixes: []string{"/data"}},
		{name: "disallowed prefix", path: "/etc/passwd", prefixes: []string{"/data"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.prefixes...)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolutionError(t *testing.T) {
	id := MustParseModelID("openai/clip-vit-base-patch32")
	err := &ResolutionError{
		ID: id,
		Failures: []SourceFailure{
			{Source: "cache", Err: ErrCacheMiss},
			{Source: "mirror", Err: fmt.Errorf("%w: connection refused", ErrNetworkFailure)},
			{Source: "direct", Err: fmt.Errorf("%w: status 404", ErrPermanentFetch)},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "tried cache, mirror, direct - all failed")
	assert.Contains(t, msg, "connection refused")

	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.ErrorIs(t, err, ErrPermanentFetch)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NotErrorIs(t, err, ErrModelNotCached)

	var target *ResolutionError
	wrapped := fmt.Errorf("session: %w", err)
	require.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Failures, 3)
}

func TestInputError(t *testing.T) {
	err := &InputError{Index: 4, Name: "broken.jpg", Err: fmt.Errorf("%w: bad header", ErrMalformedInput)}
	assert.Contains(t, err.Error(), "input 4 (broken.jpg)")
	assert.ErrorIs(t, err, ErrMalformedInput)
}
