package container

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T, members map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.sav")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestOpenAndRead(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"meta":      "name=\"United Earth\"\ndate=\"2245.03.11\"\nversion=\"4.0.12\"\n",
		"gamestate": "country=\n{\n}\n",
	})
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	meta, err := c.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, "United Earth", meta.Name)
	assert.Equal(t, "2245.03.11", meta.Date)
	assert.Equal(t, "4.0.12", meta.Version)

	blob, err := c.ReadState()
	require.NoError(t, err)
	assert.Contains(t, blob, "country=")
}

func TestOpenMissingMember(t *testing.T) {
	path := writeArchive(t, map[string]string{"meta": "name=\"x\"\n"})
	_, err := Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenNotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.sav")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseMetaSkipsMalformed(t *testing.T) {
	m := ParseMeta("name=\"Empire\"\ngarbage line\nflag=yes\ndate=\"2210.01.01\"\n")
	assert.Equal(t, "Empire", m.Name)
	assert.Equal(t, "2210.01.01", m.Date)
	assert.Empty(t, m.Version)
}
