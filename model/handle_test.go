package model_test

import (
	"context"
	"testing"

	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/device"
	"github.com/poiesic/imgembed/model"
	"github.com/poiesic/imgembed/model/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = core.MustParseModelID("acme/encoder")

func TestHandle_EmbedBatch(t *testing.T) {
	m := mock.NewModel(8)
	dev := device.New("cpu", 1024)
	h := model.NewHandle(testID, nil, m, dev)

	vectors, err := h.EmbedBatch(context.Background(), []core.Input{
		{Data: []byte("a")}, {Data: []byte("b")},
	})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 8, h.Dimension())
	assert.Equal(t, "cache", h.Source())
	assert.Equal(t, int64(1), dev.Runs())
	assert.Equal(t, int64(2), dev.Peak())
}

func TestHandle_ExhaustionFromDevice(t *testing.T) {
	m := &mock.Model{Dim: 4, WeightBytes: 10, BytesPerInput: 10}
	h := model.NewHandle(testID, nil, m, device.New("cpu", 50))

	inputs := make([]core.Input, 5)
	for i := range inputs {
		inputs[i] = core.Input{Data: []byte{byte(i)}}
	}
	_, err := h.EmbedBatch(context.Background(), inputs)
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
	assert.Empty(t, m.BatchSizes(), "model never ran")

	_, err = h.EmbedBatch(context.Background(), inputs[:4])
	assert.NoError(t, err)
}

func TestHandle_WrongVectorCount(t *testing.T) {
	m := mock.NewModel(4)
	m.BatchFunc = func(ctx context.Context, inputs []core.Input) ([][]float32, error) {
		return [][]float32{{1, 0, 0, 0}}, nil
	}
	h := model.NewHandle(testID, nil, m, device.New("cpu", 1024))

	_, err := h.EmbedBatch(context.Background(), []core.Input{{Data: []byte("a")}, {Data: []byte("b")}})
	assert.ErrorIs(t, err, model.ErrVectorCount)
}

func TestHandle_Close(t *testing.T) {
	m := mock.NewModel(4)
	h := model.NewHandle(testID, nil, m, device.New("cpu", 1024))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, m.Closed())

	_, err := h.EmbedBatch(context.Background(), []core.Input{{Data: []byte("a")}})
	assert.ErrorIs(t, err, model.ErrHandleClosed)
}
