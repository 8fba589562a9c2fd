// Package topology maps a logical device identity to a concrete bus path
// using the static controller/port/mux tables. It does no I/O.
package topology

import (
	"strconv"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// ------------------------
// Static configuration
// ------------------------

type MuxConfig struct {
	ID       types.MuxID
	Model    string
	Address  uint8
	Segments uint8 // 1..16
}

type PortConfig struct {
	Index types.PortIndex
	Pins  types.BusPins
	Muxes []MuxConfig
}

type ControllerConfig struct {
	ID types.ControllerID
	// Ports[0] is the default port used when an identity names none.
	Ports []PortConfig
}

type Config struct {
	Controllers []ControllerConfig
}

// ------------------------
// Resolved path
// ------------------------

// MuxHop is the single multiplexer stage in front of a device.
type MuxHop struct {
	Present bool
	ID      types.MuxID
	Segment types.SegmentID
	Address uint8
	Model   string
}

// Path is everything the arbiter needs to reach a device.
type Path struct {
	Controller types.ControllerID
	Index      int // controller position in the static table
	Port       types.PortIndex
	Address    uint8
	Mux        MuxHop
}

func (p Path) String() string {
	s := p.Controller.String() + "/p" + strconv.Itoa(int(p.Port))
	if p.Mux.Present {
		s += "/mux" + strconv.Itoa(int(p.Mux.ID)) + "@0x" + strconv.FormatUint(uint64(p.Mux.Address), 16) +
			"." + strconv.Itoa(int(p.Mux.Segment))
	}
	return s + "/0x" + strconv.FormatUint(uint64(p.Address), 16)
}

// ------------------------
// Resolver
// ------------------------

type port struct {
	cfg   PortConfig
	muxes [int(types.MaxMuxID) + 1]*MuxConfig
}

type controller struct {
	id    types.ControllerID
	ports []port
}

// Resolver is immutable after New and safe for concurrent use.
type Resolver struct {
	ctrls []controller
	index map[types.ControllerID]int
}

func invalid(msg string) error {
	return &errcode.E{C: errcode.InvalidConfig, Op: "topology", Msg: msg}
}

// New validates cfg and builds a resolver.
func New(cfg Config) (*Resolver, error) {
	r := &Resolver{index: make(map[types.ControllerID]int, len(cfg.Controllers))}
	for _, cc := range cfg.Controllers {
		if _, dup := r.index[cc.ID]; dup {
			return nil, invalid("duplicate controller " + cc.ID.String())
		}
		if len(cc.Ports) == 0 {
			return nil, invalid(cc.ID.String() + " has no ports")
		}
		c := controller{id: cc.ID, ports: make([]port, 0, len(cc.Ports))}
		seenPort := map[types.PortIndex]bool{}
		for _, pc := range cc.Ports {
			if seenPort[pc.Index] {
				return nil, invalid(cc.ID.String() + ": duplicate port " + strconv.Itoa(int(pc.Index)))
			}
			seenPort[pc.Index] = true
			p := port{cfg: pc}
			p.cfg.Muxes = append([]MuxConfig(nil), pc.Muxes...)
			seenAddr := map[uint8]bool{}
			for i := range pc.Muxes {
				m := &p.cfg.Muxes[i]
				where := cc.ID.String() + "/p" + strconv.Itoa(int(pc.Index)) + "/mux" + strconv.Itoa(int(m.ID))
				switch {
				case m.ID > types.MaxMuxID:
					return nil, invalid(where + ": mux id out of range")
				case p.muxes[m.ID] != nil:
					return nil, invalid(where + ": duplicate mux id")
				case m.Segments == 0 || m.Segments > uint8(types.MaxSegmentID)+1:
					return nil, invalid(where + ": segment count out of range")
				case m.Address > 0x7F || types.Reserved7Bit(m.Address):
					return nil, invalid(where + ": reserved mux address")
				case seenAddr[m.Address]:
					return nil, invalid(where + ": mux address shared with another mux")
				}
				seenAddr[m.Address] = true
				p.muxes[m.ID] = m
			}
			c.ports = append(c.ports, p)
		}
		r.index[cc.ID] = len(r.ctrls)
		r.ctrls = append(r.ctrls, c)
	}
	return r, nil
}

// Resolve maps an identity to a path or a configuration error.
func (r *Resolver) Resolve(id types.DeviceIdentity) (Path, error) {
	if id.Address > 0x7F || types.Reserved7Bit(id.Address) {
		return Path{}, errcode.ReservedAddress
	}
	ci, ok := r.index[id.Controller]
	if !ok {
		return Path{}, errcode.UnknownController
	}
	c := &r.ctrls[ci]

	p := &c.ports[0]
	if id.HasPort {
		p = nil
		for i := range c.ports {
			if c.ports[i].cfg.Index == id.Port {
				p = &c.ports[i]
				break
			}
		}
		if p == nil {
			return Path{}, errcode.UnknownPort
		}
	}

	// A mux on this port owns its address; nothing else may use it.
	for _, m := range p.muxes {
		if m != nil && m.Address == id.Address {
			return Path{}, errcode.ReservedAddress
		}
	}

	path := Path{Controller: c.id, Index: ci, Port: p.cfg.Index, Address: id.Address}
	if id.Mux.Present {
		if id.Mux.Mux > types.MaxMuxID || p.muxes[id.Mux.Mux] == nil {
			return Path{}, errcode.UnknownMux
		}
		m := p.muxes[id.Mux.Mux]
		if uint8(id.Mux.Segment) >= m.Segments {
			return Path{}, errcode.UnknownSegment
		}
		path.Mux = MuxHop{Present: true, ID: m.ID, Segment: id.Mux.Segment, Address: m.Address, Model: m.Model}
	}
	return path, nil
}

// Controllers lists controller ids in table order.
func (r *Resolver) Controllers() []types.ControllerID {
	out := make([]types.ControllerID, len(r.ctrls))
	for i, c := range r.ctrls {
		out[i] = c.id
	}
	return out
}

// IndexOf returns the table position of a controller.
func (r *Resolver) IndexOf(c types.ControllerID) (int, bool) {
	i, ok := r.index[c]
	return i, ok
}

// DefaultPort is the port used when an identity names none.
func (r *Resolver) DefaultPort(c types.ControllerID) (types.PortIndex, bool) {
	i, ok := r.index[c]
	if !ok {
		return 0, false
	}
	return r.ctrls[i].ports[0].cfg.Index, true
}

// Pins returns the SCL/SDA pair of a port.
func (r *Resolver) Pins(c types.ControllerID, p types.PortIndex) (types.BusPins, bool) {
	i, ok := r.index[c]
	if !ok {
		return types.BusPins{}, false
	}
	for _, pt := range r.ctrls[i].ports {
		if pt.cfg.Index == p {
			return pt.cfg.Pins, true
		}
	}
	return types.BusPins{}, false
}

// Muxes lists every configured multiplexer.
func (r *Resolver) Muxes() []MuxConfig {
	var out []MuxConfig
	for _, c := range r.ctrls {
		for _, p := range c.ports {
			out = append(out, p.cfg.Muxes...)
		}
	}
	return out
}
