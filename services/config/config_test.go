package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2cserver-go/bus"
	"i2cserver-go/errcode"
	"i2cserver-go/ipc"
	"i2cserver-go/priority"
	"i2cserver-go/types"
)

func TestEmbeddedBoardsParse(t *testing.T) {
	for _, board := range Boards() {
		t.Run(board, func(t *testing.T) {
			f, err := ForBoard(board)
			require.NoError(t, err)
			rt, err := ipc.NewRuntime(f.TaskSpecs())
			require.NoError(t, err)
			require.NoError(t, rt.Start(), "embedded task tables respect priorities")
			_, ok := rt.Lookup(f.Server.Task)
			assert.True(t, ok)
		})
	}
}

func TestServerConfigConversion(t *testing.T) {
	f, err := ForBoard("host-demo")
	require.NoError(t, err)
	cfg := f.ServerConfig()

	assert.Equal(t, 50*time.Millisecond, cfg.DefaultTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.AutoRecoverEvery)
	assert.Equal(t, 1, cfg.AutoRecoverBurst)
	require.Len(t, cfg.Topology.Controllers, 1)
	c := cfg.Topology.Controllers[0]
	assert.Equal(t, types.ControllerID(1), c.ID)
	require.Len(t, c.Ports, 1)
	assert.Equal(t, types.BusPins{SCL: 7, SDA: 6}, c.Ports[0].Pins)
	require.Len(t, c.Ports[0].Muxes, 2)
	assert.Equal(t, uint8(0x72), c.Ports[0].Muxes[1].Address)
	assert.Equal(t, "pca9546", c.Ports[0].Muxes[1].Model)
	assert.Equal(t, uint8(4), c.Ports[0].Muxes[1].Segments)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"unknown key", "controllers: [{id: 0, ports: [{index: 0, scl: 1, sda: 2}]}]\nbogus: 1\n"},
		{"no controllers", "server: {task: i2c}\n"},
		{"bad duration", "server: {default_timeout: soon}\ncontrollers: [{id: 0}]\n"},
		{"negative duration", "server: {default_timeout: -1s}\ncontrollers: [{id: 0}]\n"},
		{"server task missing", "server: {task: bus}\ncontrollers: [{id: 0}]\ntasks: [{id: 1, name: i2c, priority: 1}]\n"},
		{"address overflow", "controllers: [{id: 0, ports: [{index: 0, muxes: [{id: 1, address: 300}]}]}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.Equal(t, errcode.InvalidConfig, errcode.Of(err))
		})
	}
}

func TestCheckPriorities(t *testing.T) {
	f, err := Parse(strings.NewReader(`
controllers: [{id: 0}]
tasks:
  - {id: 1, name: i2c, priority: 2}
  - {id: 2, name: app, priority: 1, calls: [i2c, rtc]}
  - {id: 3, name: diag, priority: 4, calls: [i2c]}
`))
	require.NoError(t, err)
	rep := f.CheckPriorities()
	assert.Equal(t, 3, rep.Tasks)
	assert.Equal(t, 3, rep.Edges)
	require.Len(t, rep.Violations, 2)
	assert.Equal(t, priority.ReasonDownhill, rep.Violations[0].Reason)
	assert.Equal(t, priority.ReasonUnknownCallee, rep.Violations[1].Reason)
}

func TestParseDefaultsServerTask(t *testing.T) {
	f, err := Parse(strings.NewReader("controllers: [{id: 3, ports: [{index: 1, scl: 9, sda: 8}]}]\n"))
	require.NoError(t, err)
	assert.Equal(t, "i2c", f.Server.Task)
	assert.Empty(t, f.TaskSpecs())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	raw, ok := EmbeddedConfigLookup("pico")
	require.True(t, ok)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Controllers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, errcode.InvalidConfig, errcode.Of(err))
}

func TestServicePublishesRetainedSections(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
	require.NoError(t, svc.publishConfig(ctx, conn))

	sub := conn.Subscribe(bus.T(configPrefix, "#"))
	got := map[string]any{}
	for len(got) < 3 {
		select {
		case m := <-sub.Channel():
			got[m.Topic[1].(string)] = m.Payload
		case <-time.After(time.Second):
			t.Fatalf("only %d sections published", len(got))
		}
	}
	srv, ok := got["server"].(Server)
	require.True(t, ok)
	assert.Equal(t, "i2c", srv.Task)
	tasks, ok := got["tasks"].([]Task)
	require.True(t, ok)
	assert.Len(t, tasks, 3)
}

func TestServicePublishErrors(t *testing.T) {
	conn := bus.NewBus(4).NewConnection("test-config")
	svc := NewConfigService()
	assert.Error(t, svc.publishConfig(context.Background(), conn))

	old := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = old })
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-board")
	assert.Equal(t, errcode.InvalidConfig, errcode.Of(svc.publishConfig(ctx, conn)))
}
