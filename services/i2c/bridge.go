package i2c

import (
	"context"

	"i2cserver-go/bus"
	"i2cserver-go/errcode"
	"i2cserver-go/ipc"
	"i2cserver-go/services/i2c/internal/wire"
	"i2cserver-go/types"
)

// bridge answers i2c/ctrl/<id>/cmd/<name> requests by calling the server
// endpoint from the diagnostics task, so the arbiter stays on its own
// goroutine. Replies carry a types.ControllerStatus, or an errcode.Code on
// failure.
func (s *Server) bridge(ctx context.Context, ready chan<- struct{}) {
	sub := s.conn.Subscribe(bus.T(TokI2C, TokCtrl, "+", TokCmd, "+"))
	defer s.conn.Unsubscribe(sub)
	close(ready)

	var (
		hdr [wire.HeaderLen]byte
		cnt [wire.CountLen]byte
		buf [wire.MaxStatusLen]byte
	)
	target := s.ep.ID()
	log := s.log.With("task", s.diag.Name())

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			if !msg.CanReply() || len(msg.Topic) != 5 {
				continue
			}
			id, ok := msg.Topic[2].(int)
			if !ok || id < 0 || id > 0xFF {
				s.conn.Reply(msg, errcode.UnknownController, false)
				continue
			}
			c := types.ControllerID(id)
			hdr = wire.ControllerHeader(c)

			var op wire.Op
			switch msg.Topic[4] {
			case CmdStats:
				op = wire.OpStats
			case CmdRecover:
				op = wire.OpRecover
			case CmdReset:
				op = wire.OpReset
			default:
				s.conn.Reply(msg, errcode.BadOperation, false)
				continue
			}

			if op != wire.OpStats {
				if _, err := s.diag.Do(target, uint16(op), hdr[:], cnt[:]); err != nil {
					log.Debug("bus command failed", "cmd", msg.Topic[4], "ctrl", c, "err", err)
					s.conn.Reply(msg, errcode.Of(err), false)
					continue
				}
			}
			if _, err := s.diag.Do(target, uint16(wire.OpStats), hdr[:], cnt[:], ipc.WriteOnly(buf[:])); err != nil {
				s.conn.Reply(msg, errcode.Of(err), false)
				continue
			}
			n, err := wire.Count(cnt[:])
			if err != nil {
				s.conn.Reply(msg, errcode.Of(err), false)
				continue
			}
			st, err := wire.DecodeStatus(buf[:n])
			if err != nil {
				s.conn.Reply(msg, errcode.Of(err), false)
				continue
			}
			s.conn.Reply(msg, st, false)
		}
	}
}
