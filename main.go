package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"eggbot/modules/calibrate"
	"eggbot/modules/camera"
	"eggbot/modules/config"
	"eggbot/modules/eggcode"
	"eggbot/modules/gpio"
	"eggbot/modules/motion"
	"eggbot/modules/queue"
	"eggbot/modules/unit"
	"eggbot/modules/worker"
)

// app is everything the HTTP handlers and the exit paths need.
type app struct {
	cfg     *config.Config
	control *motion.Control
	queue   *queue.Queue
	worker  *worker.Worker
	sup     *worker.Supervisor
	feeder  *eggcode.Feeder
	stream  *camera.Stream
	log     *logrus.Logger
}

func main() {
	configPath := flag.String("c", "", "configuration file (YAML)")
	backend := flag.String("g", "", "gpio backend: mmap, cdev, periph or null")
	addr := flag.String("l", "", "addr to listen, '-' disables the control page")
	serialPort := flag.String("s", "", "serial port to accept EBB commands on")
	device := flag.String("d", "", "video device to stream")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("bad configuration")
	}
	if *backend != "" {
		cfg.GPIO.Backend = *backend
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *serialPort != "" {
		cfg.Serial.Port = *serialPort
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}

	dev, err := gpio.Open(cfg.GPIOOptions())
	if err != nil {
		log.WithError(err).Fatal("register mapping unavailable")
	}
	defer dev.Close()

	base := cfg.Motion()
	for _, line := range base.Lines() {
		if err := dev.Output(line); err != nil {
			log.WithError(err).Fatal("cannot configure outputs")
		}
	}
	var regs gpio.Registers = dev
	if cfg.GPIO.ServoLog != "" {
		f, err := os.Create(cfg.GPIO.ServoLog)
		if err != nil {
			log.WithError(err).Fatal("servo log")
		}
		defer f.Close()
		regs = &gpio.TimingLog{Registers: dev, Line: base.Servo.Out, W: f}
	}

	q, err := queue.New(cfg.Worker.QueueSize)
	if err != nil {
		log.WithError(err).Fatal("queue")
	}
	a := &app{cfg: cfg, control: &motion.Control{}, queue: q, log: log}
	a.worker = worker.New(worker.Options{
		Queue:   q,
		Regs:    regs,
		Control: a.control,
		Log:     log,
		Core:    cfg.Worker.Core,
		IdleDt:  cfg.Worker.Idle.Seconds(),
	})
	a.sup = worker.NewSupervisor(a.worker, a.control, dev, log)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig).Info("terminating")
		a.sup.Shutdown()
		os.Exit(1)
	}()

	log.Info("start worker")
	workerDone := a.worker.Start(func(regs gpio.Registers, control *motion.Control) (motion.Config, error) {
		if err := calibrate.BurnIn(log, cfg.Calibration.BurnIn, control); err != nil {
			return motion.Config{}, err
		}
		c := &calibrate.Calibrator{
			Regs:    regs,
			Control: control,
			Log:     log,
			Cycles:  cfg.Calibration.Cycles,
			Target:  cfg.PWM.TargetPeriod,
		}
		res, err := c.Run(base)
		if err != nil {
			return motion.Config{}, err
		}
		prod := res.Apply(base, cfg.PWM.DutyFactor)
		return prod, prod.Validate()
	})

	ctx := context.Background()
	planner := eggcode.NewPlanner(q, unit.Coordinate{Servo: 1}, cfg.PlannerOptions(), log)
	a.feeder = eggcode.NewFeeder(planner, cfg.Worker.QueueSize, log)

	// raise the pen in case it was left down
	if err := planner.SetPen(ctx, 1, 0.5); err != nil {
		a.fatal(err, "raise pen")
	}

	for _, name := range flag.Args() {
		a.submitFile(name)
	}
	if cfg.Serial.Port != "" {
		port, err := eggcode.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			a.fatal(err, "serial port")
		}
		defer port.Close()
		a.feeder.Session("serial:"+cfg.Serial.Port, port)
	}
	if cfg.Camera.Device != "" {
		a.stream, err = camera.Open(cfg.Camera.Device, cfg.Camera.Format, cfg.Camera.Size, log)
		if err != nil {
			log.WithError(err).Warn("camera disabled")
		} else {
			defer a.stream.Close()
			go func() {
				if err := a.stream.Run(ctx); err != nil {
					log.WithError(err).Warn("camera stopped")
				}
			}()
		}
	}
	if cfg.Server.Addr != "-" {
		go func() {
			if err := InitServer(cfg.Server.Addr, NewRouter(a)); err != nil {
				log.WithError(err).Error("control page down")
			}
		}()
		if ip, err := GetLocalIP(); err == nil {
			log.Infof("control page at http://%s%s", ip, cfg.Server.Addr)
		}
	}
	if batch(cfg, flag.Args()) {
		a.feeder.Close()
	}

	fed := make(chan error, 1)
	go func() { fed <- a.feeder.Run(ctx) }()

	select {
	case err := <-fed:
		if err != nil {
			a.fatal(err, "command stream")
		}
		if err := <-workerDone; err != nil {
			a.fatal(err, "worker")
		}
	case err := <-workerDone:
		if errors.Is(err, calibrate.ErrAborted) {
			log.Info("stopped during calibration")
		} else if err != nil {
			a.fatal(err, "worker")
		}
	}
	a.sup.Shutdown()
}

// batch reports whether the run ends once the command files are printed. A
// serial port keeps the session open; without files the control page is the
// only job source and the run lasts until stopped.
func batch(cfg *config.Config, files []string) bool {
	if cfg.Serial.Port != "" {
		return false
	}
	return len(files) > 0 || cfg.Server.Addr == "-"
}

func (a *app) submitFile(name string) {
	f, err := os.Open(name)
	if err != nil {
		a.fatal(err, "open command file")
	}
	done := a.feeder.Submit(name, f)
	go func() {
		<-done
		f.Close()
	}()
}

// fatal stops the machine before exiting; a half-run job on a physical
// actuator must not keep going.
func (a *app) fatal(err error, msg string) {
	a.log.WithError(err).Error(msg)
	a.sup.Shutdown()
	os.Exit(1)
}

func (a *app) stop() {
	a.sup.Shutdown()
	os.Exit(0)
}

type status struct {
	State     string   `json:"state"`
	Cycles    uint64   `json:"cycles"`
	Underruns uint64   `json:"underruns"`
	Egg       float64  `json:"egg"`
	Pen       float64  `json:"pen"`
	Servo     float64  `json:"servo"`
	Queued    int      `json:"queued"`
	QueueCap  int      `json:"queue_cap"`
	Job       string   `json:"job,omitempty"`
	Lines     uint64   `json:"lines"`
	Completed uint64   `json:"completed"`
	Pending   int64    `json:"pending"`
	Loop      *loopCfg `json:"loop,omitempty"`
}

type loopCfg struct {
	CyclesPerSecond float64 `json:"cycles_per_second"`
	PWMFrame        int     `json:"pwm_frame"`
	DutyFactor      float64 `json:"duty_factor"`
}

func (a *app) status() interface{} {
	pos := a.worker.Position()
	s := status{
		State:     a.worker.State().String(),
		Cycles:    a.control.Cycles(),
		Underruns: a.worker.Underruns(),
		Egg:       pos.Egg.Value(),
		Pen:       pos.Pen.Value(),
		Servo:     pos.Servo,
		Queued:    a.queue.Len(),
		QueueCap:  a.queue.Cap(),
		Job:       a.feeder.Current(),
		Lines:     a.feeder.Lines(),
		Completed: a.feeder.Completed(),
		Pending:   a.feeder.Pending(),
	}
	if c := a.worker.Config(); c != nil {
		s.Loop = &loopCfg{
			CyclesPerSecond: c.CyclesPerSecond,
			PWMFrame:        c.PWM.FrameLength,
			DutyFactor:      c.PWM.DutyFactor,
		}
	}
	return s
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [command file...]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
