// Package config loads the static server configuration: the controller
// topology, server tuning and the task table. Boards carry an embedded copy;
// hosts may load the same schema from a YAML file.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"i2cserver-go/errcode"
	"i2cserver-go/ipc"
	"i2cserver-go/priority"
	"i2cserver-go/services/i2c"
	"i2cserver-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for the board name
)

// EmbeddedConfigLookup allows overriding how board configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Boards lists the embedded board names.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------
// Schema
// -----------------------------------------------------------------------------

type File struct {
	Server      Server       `yaml:"server"`
	Controllers []Controller `yaml:"controllers"`
	Tasks       []Task       `yaml:"tasks"`
}

type Server struct {
	Task             string        `yaml:"task"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	AutoRecoverEvery time.Duration `yaml:"auto_recover_every"`
	AutoRecoverBurst int           `yaml:"auto_recover_burst"`
	RecoveryHalf     time.Duration `yaml:"recovery_half_period"`
}

type Controller struct {
	ID    uint8  `yaml:"id"`
	Ports []Port `yaml:"ports"`
}

type Port struct {
	Index uint8  `yaml:"index"`
	SCL   uint16 `yaml:"scl"`
	SDA   uint16 `yaml:"sda"`
	Muxes []Mux  `yaml:"muxes"`
}

type Mux struct {
	ID       uint8  `yaml:"id"`
	Model    string `yaml:"model"`
	Address  uint8  `yaml:"address"`
	Segments uint8  `yaml:"segments"`
}

type Task struct {
	ID       uint16   `yaml:"id"`
	Name     string   `yaml:"name"`
	Priority uint8    `yaml:"priority"`
	Calls    []string `yaml:"calls"`
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

func invalid(msg string, err error) error {
	return &errcode.E{C: errcode.InvalidConfig, Op: "config", Msg: msg, Err: err}
}

// Parse decodes and validates one document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalid("empty document", nil)
		}
		return nil, invalid("decode", err)
	}
	if f.Server.Task == "" {
		f.Server.Task = "i2c"
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads a config file.
func Load(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, invalid("open "+path, err)
	}
	defer fd.Close()
	return Parse(fd)
}

// ForBoard parses the embedded config of a board.
func ForBoard(board string) (*File, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return nil, invalid("no embedded config for board "+board, nil)
	}
	return Parse(bytes.NewReader(raw))
}

// Validate checks what the schema cannot express. Topology rules (address
// ranges, mux models, duplicates) are left to the server, which owns them.
func (f *File) Validate() error {
	if len(f.Controllers) == 0 {
		return invalid("no controllers", nil)
	}
	if f.Server.DefaultTimeout < 0 || f.Server.AutoRecoverEvery < 0 || f.Server.RecoveryHalf < 0 {
		return invalid("negative duration", nil)
	}
	if f.Server.AutoRecoverBurst < 0 {
		return invalid("negative auto_recover_burst", nil)
	}
	names := make(map[string]bool, len(f.Tasks))
	for _, t := range f.Tasks {
		names[t.Name] = true
	}
	if len(f.Tasks) > 0 && !names[f.Server.Task] {
		return invalid("server task "+strconv.Quote(f.Server.Task)+" not in task table", nil)
	}
	return nil
}

// CheckPriorities runs the priority discipline check over the task table.
// Unknown callees are reported there, not by Validate.
func (f *File) CheckPriorities() priority.Report {
	tasks := make([]priority.Task, len(f.Tasks))
	callers := make([]string, len(f.Tasks))
	calls := make(map[string][]string, len(f.Tasks))
	for i, t := range f.Tasks {
		tasks[i] = priority.Task{Name: t.Name, Priority: t.Priority}
		callers[i] = t.Name
		calls[t.Name] = t.Calls
	}
	return priority.Check(tasks, priority.EdgesOf(callers, calls))
}

// ServerConfig converts the file into the server's static configuration.
func (f *File) ServerConfig() i2c.Config {
	topo := i2c.Topology{Controllers: make([]i2c.ControllerConfig, 0, len(f.Controllers))}
	for _, c := range f.Controllers {
		cc := i2c.ControllerConfig{ID: types.ControllerID(c.ID)}
		for _, p := range c.Ports {
			pc := i2c.PortConfig{
				Index: types.PortIndex(p.Index),
				Pins:  types.BusPins{SCL: types.Pin(p.SCL), SDA: types.Pin(p.SDA)},
			}
			for _, m := range p.Muxes {
				pc.Muxes = append(pc.Muxes, i2c.MuxConfig{
					ID:       types.MuxID(m.ID),
					Model:    m.Model,
					Address:  m.Address,
					Segments: m.Segments,
				})
			}
			cc.Ports = append(cc.Ports, pc)
		}
		topo.Controllers = append(topo.Controllers, cc)
	}
	return i2c.Config{
		Topology:         topo,
		DefaultTimeout:   f.Server.DefaultTimeout,
		AutoRecoverEvery: f.Server.AutoRecoverEvery,
		AutoRecoverBurst: f.Server.AutoRecoverBurst,
		RecoveryHalf:     f.Server.RecoveryHalf,
	}
}

// TaskSpecs converts the task table for ipc.NewRuntime.
func (f *File) TaskSpecs() []ipc.TaskSpec {
	out := make([]ipc.TaskSpec, len(f.Tasks))
	for i, t := range f.Tasks {
		out[i] = ipc.TaskSpec{
			ID:       ipc.TaskID(t.ID),
			Name:     t.Name,
			Priority: t.Priority,
			Calls:    append([]string(nil), t.Calls...),
		}
	}
	return out
}
