// Package linear implements a pure-Go reference image encoder.
//
// A model directory holds two files:
//
//	config.json         image_size, num_channels, projection_dim, image_mean, image_std
//	model.safetensors   projection.weight [projection_dim, C*H*W] F32, optional projection.bias
//
// Images (JPEG, PNG or WebP) are resized to image_size x image_size, scaled to
// [0,1], normalized per channel, flattened in CHW order and projected; the
// result is L2-normalized. The encoder is small enough to run anywhere and
// reports its memory need honestly, so batching behaves as it would on a GPU.
package linear
