//go:build rp2040 || rp2350

// Command pico-demo: bus server bring-up on a Pico with an AHT20 on i2c0 and
// an SHTC3 behind a PCA9548 on i2c1.
//
// Build/flash (TinyGo):
//
//	tinygo flash -target pico ./services/i2c/cmd/pico-demo
//
// Wiring follows the embedded "pico" board config:
// - i2c0 on GP4 (SDA) / GP5 (SCL), AHT20 at 0x38.
// - i2c1 on GP6 (SDA) / GP7 (SCL), PCA9548 at 0x71, SHTC3 on segment 0.
package main

import (
	"context"
	"time"

	"tinygo.org/x/drivers/shtc3"

	"i2cserver-go/bus"
	"i2cserver-go/drivers/aht20"
	"i2cserver-go/ipc"
	"i2cserver-go/services/config"
	"i2cserver-go/services/i2c"
	"i2cserver-go/services/i2c/internal/platform"
	"i2cserver-go/types"
)

func fail(stage string, err error) {
	for {
		println("[pico-demo]", stage, "failed:", err.Error())
		time.Sleep(2 * time.Second)
	}
}

func main() {
	time.Sleep(3 * time.Second)
	println("== i2c bus server: Pico demo ==")

	cfg, err := config.ForBoard("pico")
	if err != nil {
		fail("config", err)
	}
	rt, err := ipc.NewRuntime(cfg.TaskSpecs())
	if err != nil {
		fail("runtime", err)
	}
	if err := rt.Start(); err != nil {
		fail("priority check", err)
	}
	ep, _ := rt.Endpoint(cfg.Server.Task)
	server, _ := rt.Lookup(cfg.Server.Task)
	diag, _ := rt.Client("diag")
	sensors, _ := rt.Client("sensors")

	srvCfg := cfg.ServerConfig()
	ports := map[types.ControllerID][]platform.Port{}
	for _, c := range srvCfg.Topology.Controllers {
		for _, p := range c.Ports {
			ports[c.ID] = append(ports[c.ID], platform.Port{Index: p.Index, Pins: p.Pins})
		}
	}
	buses, err := platform.NewRP2Buses(0, ports)
	if err != nil {
		fail("i2c", err)
	}

	b := bus.NewBus(8)
	srv, err := i2c.NewServer(ep, srvCfg, buses.Transfer(), platform.RP2Lines{}, i2c.Options{
		Bus:   b,
		Ports: buses,
		Diag:  diag,
	})
	if err != nil {
		fail("server", err)
	}
	go srv.Run(context.Background())

	conn := b.NewConnection("main")
	events := conn.Subscribe(i2c.RecoveryTopic(1))
	go func() {
		for m := range events.Channel() {
			if ev, ok := m.Payload.(types.RecoveryEvent); ok {
				println("[recovery] ctrl", int(ev.Controller), "ok", ev.OK, "pulses", ev.Pulses)
			}
		}
	}()

	ahtDev, _ := i2c.NewDevice(sensors, server, types.Device(0, aht20.Address))
	shtDev, _ := i2c.NewDevice(sensors, server, types.Device(1, shtc3.SHTC3_ADDRESS).Behind(1, 0))
	aht := aht20.New(i2c.NewRetrying(ahtDev, i2c.RetryOptions{}), aht20.Config{})
	sht := shtc3.New(i2c.NewRetrying(shtDev, i2c.RetryOptions{}))
	_ = sht.WakeUp()

	ctx := context.Background()
	for {
		if s, err := aht.Read(ctx); err != nil {
			println("[aht20]", err.Error())
		} else {
			println("[aht20] dC", s.DeciCelsius(), "d%RH", s.DeciRelHumidity())
		}
		if t, h, err := sht.ReadTemperatureHumidity(); err != nil {
			println("[shtc3]", err.Error())
		} else {
			println("[shtc3] mC", t, "c%RH", h)
		}
		if st, err := ahtDev.Stats(); err == nil {
			println("[i2c0]", st.State, "tx", int(st.Transactions))
		}
		time.Sleep(2 * time.Second)
	}
}
