package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunEmbeddedBoard(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"--board", "pico"}, &out, &errOut))
	assert.Contains(t, out.String(), "violations=0")
	assert.Empty(t, errOut.String())
}

func TestRunReportsViolations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	doc := `
controllers: [{id: 0}]
tasks:
  - {id: 1, name: i2c, priority: 3}
  - {id: 2, name: app, priority: 1, calls: [i2c]}
`
	assert.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"-f", path}, &out, &errOut))
	assert.Contains(t, out.String(), "violations=1")
	assert.Contains(t, out.String(), "app -> i2c")
}

func TestRunUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(nil, &out, &errOut))
	assert.Equal(t, 2, run([]string{"-f", "a.yaml", "-b", "pico"}, &out, &errOut))
	assert.Equal(t, 2, run([]string{"--board", "nope"}, &out, &errOut))

	out.Reset()
	assert.Equal(t, 0, run([]string{"--list"}, &out, &errOut))
	assert.Contains(t, out.String(), "host-demo")
}
