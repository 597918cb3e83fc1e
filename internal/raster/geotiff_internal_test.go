package raster

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridFromImage_EightBitSampleFormat(t *testing.T) {
	img := &image.Gray{Pix: []byte{0xFF, 0x01, 0x80}, Stride: 3, Rect: image.Rect(0, 0, 3, 1)}

	signed, err := gridFromImage(img, true)
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 1, -128}, signed.Values)

	unsigned, err := gridFromImage(img, false)
	require.NoError(t, err)
	assert.Equal(t, []int32{255, 1, 128}, unsigned.Values)
}

func TestGridFromImage_SixteenBitSampleFormat(t *testing.T) {
	img := &image.Gray16{Pix: []byte{0xFF, 0xFE, 0x00, 0x02}, Stride: 4, Rect: image.Rect(0, 0, 2, 1)}

	signed, err := gridFromImage(img, true)
	require.NoError(t, err)
	assert.Equal(t, []int32{-2, 2}, signed.Values)

	unsigned, err := gridFromImage(img, false)
	require.NoError(t, err)
	assert.Equal(t, []int32{65534, 2}, unsigned.Values)
}
