package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	query, err := Render("ddl", "CREATE TABLE {{.Table}} (id INTEGER)", map[string]any{"Table": "indicadores"})
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE indicadores (id INTEGER)", query)
}

func TestRenderBadTemplate(t *testing.T) {
	_, err := Render("bad", "SELECT {{.Broken", nil)
	require.Error(t, err)
}

func TestRenderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT * FROM {{.Table}}"), 0o644))

	query, err := RenderFile(path, map[string]any{"Table": "fundos_cvm"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM fundos_cvm", query)
}

func TestRenderFileMissing(t *testing.T) {
	_, err := RenderFile("does-not-exist.sql", nil)
	require.Error(t, err)
}
