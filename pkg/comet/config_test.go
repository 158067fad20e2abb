package comet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "out.ome.tiff", OutputFilename("out"))
	assert.Equal(t, "out.ome.tiff", OutputFilename("out.ome.tiff"))
	assert.Equal(t, "/tmp/x.tiff.ome.tiff", OutputFilename("/tmp/x.tiff"))
}

func TestConfigFromYaml(t *testing.T) {
	c, err := newConfigFromYaml([]byte("nkeypoints: 250\ncompression: deflate\nregister:\n  blocksize: 512\n"))
	require.NoError(t, err)

	assert.Equal(t, 250, c.NKeypoints)
	assert.Equal(t, "deflate", c.Compression)
	assert.Equal(t, 512, c.Register.BlockSize)

	// Untouched fields keep their defaults
	def := NewConfig()
	assert.Equal(t, def.ThumbnailSize, c.ThumbnailSize)
	assert.Equal(t, def.Register.RansacIters, c.Register.RansacIters)
	assert.True(t, c.ConstrainShifts)

	_, err = newConfigFromYaml([]byte("nkeypoints: [1, 2"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	c := NewConfig()
	c.TileSize = 256
	c.Interpolation = "nearest"
	c.Register.MinPeakRatio = 5.5

	filename := filepath.Join(t.TempDir(), "comet.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(c.AsYaml()), 0644))

	loaded, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRegisterConfig(t *testing.T) {
	c := NewConfig()
	c.Verbosity = 2
	c.Register.Workers = 3

	rc := c.registerConfig()
	assert.Equal(t, 2, rc.Verbosity)
	assert.Equal(t, 3, rc.Workers)

	c.Workers = 7
	assert.Equal(t, 7, c.registerConfig().Workers)
}
