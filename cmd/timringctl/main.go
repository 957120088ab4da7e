// Command timringctl drives a timer ring through its lifecycle.
//
// By default it runs against an in-process simulated coprocessor reached
// through the framed mailbox protocol. -probe queries the device info of a
// coprocessor on a serial line, and -serve makes this process the
// coprocessor end of such a line.
//
// Run with:
//
//	go run ./cmd/timringctl -clock gti -tick 10000 -horizon 10000000 -timers 65536
//	go run ./cmd/timringctl -serve -serial /dev/ttyUSB1
//	go run ./cmd/timringctl -probe -serial /dev/ttyUSB0
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgedlt/timring"
	"github.com/edgedlt/timring/hostclock"
	"github.com/edgedlt/timring/mbox"
	"github.com/edgedlt/timring/sim"
	"go.uber.org/zap"
)

type options struct {
	clock   string
	tick    uint64
	horizon uint64
	timers  uint64
	ring    uint
	rings   int
	hz      uint64
	run     time.Duration
	serial  string
	baud    int
	serve   bool
	probe   bool
	debug   bool
}

func main() {
	var o options
	flag.StringVar(&o.clock, "clock", "cpu", "Clock source (cpu, system, gpio, gti, ptp)")
	flag.Uint64Var(&o.tick, "tick", 1000, "Tick period in nanoseconds")
	flag.Uint64Var(&o.horizon, "horizon", 1_000_000, "Maximum timeout in nanoseconds")
	flag.Uint64Var(&o.timers, "timers", 4096, "Timer capacity")
	flag.UintVar(&o.ring, "ring", 0, "Ring id")
	flag.IntVar(&o.rings, "rings", sim.DefaultRings, "Simulated ring count")
	flag.Uint64Var(&o.hz, "hz", sim.DefaultClockHz, "Simulated coprocessor clock in Hz")
	flag.DurationVar(&o.run, "run", 100*time.Millisecond, "How long to keep the ring started")
	flag.StringVar(&o.serial, "serial", "", "Serial device of the coprocessor mailbox")
	flag.IntVar(&o.baud, "baud", 115200, "Serial baud rate")
	flag.BoolVar(&o.serve, "serve", false, "Serve a simulated coprocessor on -serial")
	flag.BoolVar(&o.probe, "probe", false, "Query device info over -serial and exit")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	logger, err := newLogger(o.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case o.serve:
		err = serve(ctx, o, logger)
	case o.probe:
		err = probe(ctx, o, logger)
	default:
		err = runRing(ctx, o, logger)
	}
	if err != nil {
		logger.Error("timringctl failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newSim(o options, logger *zap.Logger) (*sim.Coprocessor, error) {
	return sim.New(sim.Config{
		Rings:   o.rings,
		ClockHz: o.hz,
		Clock:   hostclock.NewMonotonic(),
		Logger:  logger.Named("sim"),
	})
}

// serve answers mailbox frames on the serial line until interrupted.
func serve(ctx context.Context, o options, logger *zap.Logger) error {
	if o.serial == "" {
		return fmt.Errorf("-serve needs -serial")
	}

	dev, err := newSim(o, logger)
	if err != nil {
		return err
	}

	cfg := mbox.DefaultSerialConfig(o.serial)
	cfg.Baud = o.baud
	cfg.ReadTimeout = 0
	port, err := mbox.OpenSerialPort(cfg)
	if err != nil {
		return err
	}
	defer port.Close()

	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	logger.Info("serving simulated coprocessor",
		zap.String("serial", o.serial),
		zap.Int("rings", dev.RingCount()),
		zap.Uint64("clk_freq", o.hz))

	err = dev.ServeStream(ctx, port)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// probe prints the coprocessor clock and active rings.
func probe(ctx context.Context, o options, logger *zap.Logger) error {
	if o.serial == "" {
		return fmt.Errorf("-probe needs -serial")
	}

	cfg := mbox.DefaultSerialConfig(o.serial)
	cfg.Baud = o.baud
	tr, err := mbox.OpenSerial(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	resp, err := tr.Send(ctx, mbox.TimerRequest(mbox.MsgGetDevInfo, 0, nil, mbox.DevInfoSize))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("device info: coprocessor returned %s", resp.Code)
	}
	info, err := mbox.DecodeDevInfo(resp.Data)
	if err != nil {
		return err
	}

	var active []int
	for id := 0; id < sim.MaxRings; id++ {
		if info.RingIsActive(uint8(id)) {
			active = append(active, id)
		}
	}
	logger.Info("device info",
		zap.Uint64("clk_freq", info.ClockHz),
		zap.Ints("active_rings", active))
	return nil
}

// runRing creates, starts, stops and frees one ring against a simulated
// coprocessor on the other end of an in-memory framed link.
func runRing(ctx context.Context, o options, logger *zap.Logger) error {
	if o.serial != "" {
		return fmt.Errorf("-serial needs -serve or -probe; ring registers are only reachable in-process")
	}

	src, err := timring.ParseClockSource(o.clock)
	if err != nil {
		return err
	}
	if o.ring > 255 {
		return fmt.Errorf("ring id %d out of range", o.ring)
	}
	id := uint8(o.ring)

	dev, err := newSim(o, logger)
	if err != nil {
		return err
	}

	host, coproc := net.Pipe()
	tr := mbox.NewStreamTransport(host)
	defer tr.Close()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := dev.ServeStream(serveCtx, coproc); err != nil && serveCtx.Err() == nil {
			logger.Warn("simulated coprocessor stopped", zap.Error(err))
		}
	}()

	cfg, err := timring.NewConfig(
		timring.WithDevice(dev),
		timring.WithMailbox(tr),
		timring.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	a := timring.NewAdapter(cfg)
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("adapter close failed", zap.Error(err))
		}
	}()

	r, err := a.Init(id, timring.AdapterConfig{
		Clock:        src,
		TickNs:       o.tick,
		MaxTimeoutNs: o.horizon,
		NumTimers:    o.timers,
	})
	if err != nil {
		return err
	}

	if err := a.Start(ctx, id); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-time.After(o.run):
	}

	st, err := a.StatsGet(id)
	if err != nil {
		return err
	}
	active, err := a.RingActive(context.Background(), id)
	if err != nil {
		return err
	}
	logger.Info("ring running",
		zap.Uint8("ring", id),
		zap.Uint64("interval_cycles", r.IntervalCycles()),
		zap.Uint64("ticks", st.Ticks),
		zap.Bool("active", active))

	if err := a.Stop(context.Background(), id); err != nil {
		return err
	}
	return a.Uninit(id)
}
