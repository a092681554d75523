package obj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundtrip(t *testing.T) {
	img := &Image{
		Entry: 0,
		Code:  []byte{1, 2, 3, 4, 5},
		Data:  []byte{0xff, 0xee},
		Labels: map[string]uint32{
			"main": 12,
			"add":  40,
		},
	}

	b := img.AppendTo(nil)

	got, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, img.Entry, got.Entry)
	assert.Equal(t, img.Code, got.Code)
	assert.Equal(t, img.Data, got.Data)
	assert.Equal(t, img.Labels, got.Labels)
}

func TestMarshalDeterministic(t *testing.T) {
	img := &Image{
		Code: []byte{7},
		Labels: map[string]uint32{
			"c": 3, "a": 1, "b": 2, "d": 4, "e": 5,
		},
	}

	b := img.AppendTo(nil)

	for i := 0; i < 10; i++ {
		assert.Equal(t, b, img.AppendTo(nil))
	}
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal(nil)
	assert.Error(t, err)

	_, err = Unmarshal([]byte("WXYZ\x01"))
	assert.Error(t, err, "bad magic")

	_, err = Unmarshal([]byte("MICA\x09"))
	assert.Error(t, err, "bad version")

	img := &Image{Code: []byte{1, 2, 3}}
	b := img.AppendTo(nil)

	_, err = Unmarshal(b[:len(b)-2])
	assert.Error(t, err, "truncated")

	_, err = Unmarshal(append(b, 0))
	assert.Error(t, err, "trailing bytes")
}

func TestEmptyImage(t *testing.T) {
	img := &Image{}

	got, err := Unmarshal(img.AppendTo(nil))
	require.NoError(t, err)

	assert.Empty(t, got.Code)
	assert.Empty(t, got.Data)
	assert.Empty(t, got.Labels)
}
