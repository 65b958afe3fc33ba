package souschef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galleyhq/galley/internal/option"
)

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalDef = `
slug: feed-poller
name: RSS Feed Poller
description: Polls an RSS feed.
runs: galley.test.noop
options:
  feed_url:
    input_type: text
    value_types: url
    required: true
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "feed-poller.yaml", minimalDef)

	sc, err := LoadFile(path, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, "feed-poller", sc.Slug)
	assert.Equal(t, []option.Type{option.TypeURL}, sc.Options["feed_url"].ValueTypes)
}

func TestLoadFileAttachesPath(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "broken.yaml", `
slug: broken
name: Broken
description: Missing runs and options.
`)

	_, err := LoadFile(path, testRegistry(t))
	var inv *InvalidError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, path, inv.Path)
}

func TestLoadFileIncludes(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "_base.yaml", `
description: Fragment description.
options:
  interval:
    input_type: number
    value_types:
      - numeric
      - nulltype
    default: 3600
`)
	path := writeYAML(t, dir, "poller.yaml", `
slug: poller
name: Poller
description: Definition description wins.
runs: galley.test.noop
includes:
  - _base.yaml
options:
  feed_url:
    input_type: text
    value_types: url
    required: true
`)

	sc, err := LoadFile(path, testRegistry(t))
	require.NoError(t, err)

	// Definition keys win over fragment keys; fragment-only keys survive.
	assert.Equal(t, "Definition description wins.", sc.Description)
	assert.Equal(t, float64(3600), sc.Options["interval"].Default)
	assert.Contains(t, sc.Options, "feed_url")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "feed-poller.yaml", minimalDef)
	writeYAML(t, dir, "_fragment.yaml", `options: {}`)
	writeYAML(t, dir, "notes.txt", "not a definition")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	chefs, err := LoadDir(dir, testRegistry(t))
	require.NoError(t, err)
	require.Len(t, chefs, 1)
	assert.Equal(t, "feed-poller", chefs[0].Slug)
}

func TestLoadDirFailsOnInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "bad.yaml", `slug: bad`)

	_, err := LoadDir(dir, testRegistry(t))
	assert.Error(t, err)
}
