package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("chunked"), 0600))

	assert.NoError(t, NewFileChecker(path).IsFile().Size(7).ModeEquals(0600).Content([]byte("chunked")).Check())

	err := NewFileChecker(path).Size(8).Content([]byte("chunkeD")).Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 8 got 7")
	assert.Contains(t, err.Error(), "first difference at offset 6")

	assert.Error(t, NewFileChecker(dir).IsFile().Check())
	assert.ErrorContains(t, NewFileChecker(filepath.Join(dir, "missing")).IsFile().Check(), "path does not exist")
}

func TestNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.bin"), nil, 0600))
	assert.NoError(t, NoPartialFiles(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".done.bin.123.part"), nil, 0600))
	assert.ErrorContains(t, NoPartialFiles(dir), ".done.bin.123.part")
}
