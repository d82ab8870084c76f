package fingerprint

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_Deterministic(t *testing.T) {
	data := []byte("the same label photo")

	first := Sum(data)
	second := Sum(bytes.Clone(data))

	assert.Equal(t, first, second)
	assert.Len(t, string(first), Size)
	assert.True(t, Valid(first))
}

func TestSum_KnownVector(t *testing.T) {
	assert.Equal(t,
		domain.Fingerprint("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"),
		Sum(nil),
	)
}

func TestFromReader_ChunkBoundaries(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	want := Sum(data)

	tests := []struct {
		name   string
		reader io.Reader
	}{
		{name: "whole buffer", reader: bytes.NewReader(data)},
		{name: "one byte at a time", reader: iotest.OneByteReader(bytes.NewReader(data))},
		{name: "half reads", reader: iotest.HalfReader(bytes.NewReader(data))},
		{name: "multi reader", reader: io.MultiReader(bytes.NewReader(data[:7]), bytes.NewReader(data[7:4097]), bytes.NewReader(data[4097:]))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromReader(tt.reader)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRead(t *testing.T) {
	data := []byte("\x89PNG\r\n\x1a\nfake image body")

	t.Run("returns fingerprint and bytes", func(t *testing.T) {
		fp, raw, err := Read(iotest.OneByteReader(bytes.NewReader(data)), 1024)
		require.NoError(t, err)
		assert.Equal(t, Sum(data), fp)
		assert.Equal(t, data, raw)
	})

	t.Run("content at limit is accepted", func(t *testing.T) {
		_, raw, err := Read(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Len(t, raw, len(data))
	})

	t.Run("content over limit is rejected", func(t *testing.T) {
		_, _, err := Read(bytes.NewReader(data), int64(len(data)-1))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		_, _, err := Read(strings.NewReader(""), 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("read error is propagated", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, _, err := Read(iotest.ErrReader(boom), 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("abc"))
	assert.False(t, Valid(domain.Fingerprint(strings.Repeat("z", Size))))
	assert.True(t, Valid(Sum([]byte("x"))))
}
