// Package muxdrv knows how to steer the supported single-register I2C
// multiplexers: which control byte opens a given downstream segment.
package muxdrv

import (
	"strings"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// Model describes one multiplexer part.
type Model struct {
	Name     string
	Channels uint8
	// Indexed parts take an enable bit plus a segment number; the others
	// take one enable bit per segment.
	Indexed bool
}

var models = map[string]Model{
	"pca9548":  {Name: "pca9548", Channels: 8},
	"tca9548a": {Name: "tca9548a", Channels: 8},
	"pca9546":  {Name: "pca9546", Channels: 4},
	"tca9546a": {Name: "tca9546a", Channels: 4},
	"pca9545":  {Name: "pca9545", Channels: 4},
	"pca9543":  {Name: "pca9543", Channels: 2},
	"pca9547":  {Name: "pca9547", Channels: 8, Indexed: true},
}

// DefaultModel is used when the configuration names none.
const DefaultModel = "pca9548"

// Lookup finds a model by case-insensitive name. An empty name selects
// DefaultModel.
func Lookup(name string) (Model, error) {
	if name == "" {
		name = DefaultModel
	}
	m, ok := models[strings.ToLower(name)]
	if !ok {
		return Model{}, &errcode.E{C: errcode.InvalidConfig, Op: "mux", Msg: "unsupported model " + name}
	}
	return m, nil
}

// Control returns the control register value that connects seg alone.
func (m Model) Control(seg types.SegmentID) (byte, error) {
	if uint8(seg) >= m.Channels {
		return 0, errcode.UnknownSegment
	}
	if m.Indexed {
		return 0x08 | byte(seg), nil
	}
	return 1 << seg, nil
}

// Off is the control value that disconnects every segment.
func (m Model) Off() byte { return 0 }

// Check reports whether a configured segment count fits the part.
func (m Model) Check(segments uint8) error {
	if segments == 0 || segments > m.Channels {
		return &errcode.E{C: errcode.InvalidConfig, Op: "mux", Msg: m.Name + ": segment count exceeds channels"}
	}
	return nil
}
