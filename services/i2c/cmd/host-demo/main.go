// host-demo runs the bus server against simulated hardware: an SHTC3 and a
// DS3231 behind a PCA9548, an AHT20 behind a PCA9546, and a target that
// wedges SDA partway through so recovery can be watched on the bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ds3231"
	"tinygo.org/x/drivers/shtc3"

	"i2cserver-go/bus"
	"i2cserver-go/drivers/aht20"
	"i2cserver-go/ipc"
	"i2cserver-go/services/config"
	"i2cserver-go/services/i2c"
	"i2cserver-go/services/i2c/internal/metrics"
	"i2cserver-go/services/i2c/internal/platform"
	"i2cserver-go/types"
	"i2cserver-go/x/logx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		board       string
		file        string
		rounds      int
		period      time.Duration
		stickAt     int
		metricsAddr string
		logLevel    string
		logJSON     bool
	)
	fs := pflag.NewFlagSet("host-demo", pflag.ContinueOnError)
	fs.StringVar(&board, "board", "host-demo", "embedded board config")
	fs.StringVarP(&file, "config", "c", "", "YAML config file (overrides --board)")
	fs.IntVarP(&rounds, "rounds", "n", 10, "sensor rounds to run")
	fs.DurationVar(&period, "period", 200*time.Millisecond, "delay between rounds")
	fs.IntVar(&stickAt, "stick-at", 4, "round at which SDA gets stuck (0 disables)")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&logJSON, "log-json", false, "log as JSON")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logx.SetLevel(logx.ParseLevel(logLevel))
	if logJSON {
		logx.SetOutput(os.Stderr, logx.FormatJSON)
	}
	log := logx.For(logx.ComponentServer).With("demo", true)

	var (
		cfg *config.File
		err error
	)
	if file != "" {
		cfg, err = config.Load(file)
	} else {
		cfg, err = config.ForBoard(board)
	}
	if err != nil {
		return err
	}

	rt, err := ipc.NewRuntime(cfg.TaskSpecs())
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		return err
	}
	ep, err := rt.Endpoint(cfg.Server.Task)
	if err != nil {
		return err
	}
	server, _ := rt.Lookup(cfg.Server.Task)
	diag, err := rt.Client("diag")
	if err != nil {
		return err
	}

	// simulated hardware for every configured controller
	srvCfg := cfg.ServerConfig()
	buses := map[types.ControllerID]drivers.I2C{}
	sims := map[types.ControllerID]*platform.SimBus{}
	for _, c := range srvCfg.Topology.Controllers {
		sb := platform.NewSimBus()
		buses[c.ID], sims[c.ID] = sb, sb
	}
	sim, ok := sims[1]
	if !ok {
		return errors.New("config has no controller 1")
	}
	mux1 := sim.AddMux(0x71, 8)
	mux2 := sim.AddMux(0x72, 4)
	mux1.Attach(5, shtc3.SHTC3_ADDRESS, &platform.SHTC3{RawTemp: 0x6666, RawHum: 0x8000})
	mux1.Attach(3, 0x68, &platform.RegisterDevice{})
	mux2.Attach(0, aht20.Address, &platform.AHT20{RawHum: 0x70000, RawTemp: 0x60000, BusyReads: 1})

	lines := platform.NewFakeLines()
	hw := platform.NewTxTransfer(buses)
	defer hw.Close()

	b := bus.NewBus(16)
	met := metrics.NewCollector("i2c")
	srv, err := i2c.NewServer(ep, srvCfg, hw, lines, i2c.Options{Bus: b, Metrics: met, Diag: diag})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(met.Registry(), promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer hs.Close()
	}

	ui := b.NewConnection("ui")
	cfgSvc := config.NewConfigService()
	cfgSvc.Publish(ui, cfg)
	mon := ui.Subscribe(bus.T(i2c.TokI2C, i2c.TokCtrl, "+", "#"))
	go func() {
		for m := range mon.Channel() {
			if m.ReplyTo != nil || len(m.Topic) < 4 || m.Topic[3] == i2c.TokCmd {
				continue
			}
			fmt.Printf("[bus] %s %+v\n", m.Topic, m.Payload)
		}
	}()

	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(ctx) }()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sensorsTask(ctx, rt, server, lines, srvCfg, rounds, period, stickAt); err != nil {
			log.Error("sensors task", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := rtcTask(ctx, rt, server, rounds, period); err != nil {
			log.Error("rtc task", "err", err)
		}
	}()
	wg.Wait()

	// controller status through the bus command path
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	reply, err := ui.RequestWait(rctx, ui.NewMessage(i2c.CommandTopic(1, i2c.CmdStats), nil, false))
	cancel()
	if err == nil {
		fmt.Printf("[stats] %+v\n", reply.Payload)
	}

	stop()
	ui.Disconnect()
	if err := <-srvDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sensorsTask(ctx context.Context, rt *ipc.Runtime, server ipc.TaskID, lines *platform.FakeLines,
	cfg i2c.Config, rounds int, period time.Duration, stickAt int) error {
	cli, err := rt.Client("sensors")
	if err != nil {
		return err
	}
	shtDev, err := i2c.NewDevice(cli, server, types.Device(1, shtc3.SHTC3_ADDRESS).Behind(1, 5))
	if err != nil {
		return err
	}
	ahtDev, err := i2c.NewDevice(cli, server, types.Device(1, aht20.Address).Behind(2, 0))
	if err != nil {
		return err
	}
	retry := i2c.RetryOptions{Attempts: 4, Backoff: 50 * time.Millisecond}
	sht := shtc3.New(i2c.NewRetrying(shtDev, retry))
	aht := aht20.New(i2c.NewRetrying(ahtDev, retry), aht20.Config{})
	_ = sht.WakeUp()

	pins := cfg.Topology.Controllers[0].Ports[0].Pins
	for _, c := range cfg.Topology.Controllers {
		if c.ID == 1 {
			pins = c.Ports[0].Pins
		}
	}

	for i := 1; i <= rounds; i++ {
		if i == stickAt {
			fmt.Println("[demo] a target wedges SDA low")
			lines.Stick(pins.SCL, pins.SDA, 3)
		}
		if t, h, err := sht.ReadTemperatureHumidity(); err != nil {
			fmt.Printf("[sensors] shtc3: %v\n", err)
		} else {
			fmt.Printf("[sensors] shtc3 %d.%03d C %d.%02d %%RH\n", t/1000, t%1000, h/100, h%100)
		}
		if s, err := aht.Read(ctx); err != nil {
			fmt.Printf("[sensors] aht20: %v\n", err)
		} else {
			fmt.Printf("[sensors] aht20 %d.%d C %d.%d %%RH\n",
				s.DeciCelsius()/10, s.DeciCelsius()%10, s.DeciRelHumidity()/10, s.DeciRelHumidity()%10)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
	}
	return nil
}

func rtcTask(ctx context.Context, rt *ipc.Runtime, server ipc.TaskID, rounds int, period time.Duration) error {
	cli, err := rt.Client("rtc")
	if err != nil {
		return err
	}
	dev, err := i2c.NewDevice(cli, server, types.Device(1, 0x68).Behind(1, 3))
	if err != nil {
		return err
	}
	rtc := ds3231.New(i2c.NewRetrying(dev, i2c.RetryOptions{}))
	if err := rtc.SetTime(time.Now().UTC().Truncate(time.Second)); err != nil {
		fmt.Printf("[rtc] set: %v\n", err)
	}
	for i := 0; i < rounds; i++ {
		if now, err := rtc.ReadTime(); err != nil {
			fmt.Printf("[rtc] read: %v\n", err)
		} else {
			fmt.Printf("[rtc] %s\n", now.Format(time.TimeOnly))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
	}
	return nil
}
