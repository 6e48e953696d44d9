// Package config loads the controller configuration from YAML. Every field
// has a default matching the reference wiring, so an empty file is valid.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"eggbot/modules/eggcode"
	"eggbot/modules/gpio"
	"eggbot/modules/motion"
	"eggbot/modules/queue"
)

type Config struct {
	GPIO        GPIOConfig        `yaml:"gpio"`
	Worker      WorkerConfig      `yaml:"worker"`
	PWM         PWMConfig         `yaml:"pwm"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Servo       ServoConfig       `yaml:"servo"`
	Egg         AxisConfig        `yaml:"egg"`
	Pen         AxisConfig        `yaml:"pen"`
	Planner     PlannerConfig     `yaml:"planner"`
	Server      ServerConfig      `yaml:"server"`
	Camera      CameraConfig      `yaml:"camera"`
	Serial      SerialConfig      `yaml:"serial"`
}

type GPIOConfig struct {
	Backend string `yaml:"backend"` // mmap, cdev, periph or null
	Memory  string `yaml:"memory"`
	Chip    string `yaml:"chip"`
	// ServoLog, when set, records servo edges to this file.
	ServoLog string `yaml:"servo_log"`
}

type WorkerConfig struct {
	Core      int           `yaml:"core"` // -1 disables pinning
	QueueSize int           `yaml:"queue_size"`
	Idle      time.Duration `yaml:"idle"`
}

type PWMConfig struct {
	DutyFactor   float64       `yaml:"duty_factor"`
	TargetPeriod time.Duration `yaml:"target_period"`
	Commutation  float64       `yaml:"commutation"`
}

type CalibrationConfig struct {
	Cycles uint64        `yaml:"cycles"`
	BurnIn time.Duration `yaml:"burn_in"`
}

type ServoConfig struct {
	Pin       int       `yaml:"pin"`
	Low       float64   `yaml:"low"`
	High      float64   `yaml:"high"`
	PulseLow  float64   `yaml:"pulse_low"`
	PulseHigh float64   `yaml:"pulse_high"`
	Frequency Frequency `yaml:"frequency"`
}

// AxisConfig is one stepper: in1..in4 and its soft range. Min and Max are
// only enforced on the pen axis.
type AxisConfig struct {
	Pins        [4]int  `yaml:"pins"`
	StepsPerRev float64 `yaml:"steps_per_rev"`
	Min         float64 `yaml:"min"`
	Max         float64 `yaml:"max"`
}

type PlannerConfig struct {
	Speed      eggcode.SpeedMode `yaml:"speed"`
	SpeedScale float64           `yaml:"speed_scale"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type CameraConfig struct {
	Device string `yaml:"device"` // empty disables the stream
	Format string `yaml:"format"`
	Size   string `yaml:"size"`
}

type SerialConfig struct {
	Port string `yaml:"port"` // empty disables the EBB port
	Baud int    `yaml:"baud"`
}

// Frequency reads values like "50Hz" or "1.5kHz".
type Frequency struct {
	physic.Frequency
}

func (f *Frequency) UnmarshalYAML(n *yaml.Node) error {
	return errors.Wrapf(f.Set(n.Value), "line %d", n.Line)
}

func (f Frequency) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

// Default is the reference wiring on a Raspberry Pi 2.
func Default() *Config {
	return &Config{
		GPIO: GPIOConfig{
			Backend: gpio.BackendMem,
			Memory:  "/dev/gpiomem",
			Chip:    "gpiochip0",
		},
		Worker: WorkerConfig{
			Core:      3,
			QueueSize: queue.DefaultSize,
			Idle:      100 * time.Millisecond,
		},
		PWM: PWMConfig{
			DutyFactor:   0.55,
			TargetPeriod: 40 * time.Microsecond,
			Commutation:  1,
		},
		Calibration: CalibrationConfig{
			Cycles: 8 * 1024 * 1024,
			BurnIn: time.Second,
		},
		Servo: ServoConfig{
			Pin:       26,
			Low:       0.16,
			High:      0.4,
			PulseLow:  0.5 / 20,
			PulseHigh: 3.0 / 20,
			Frequency: Frequency{50 * physic.Hertz},
		},
		Egg: AxisConfig{
			Pins:        [4]int{4, 17, 18, 27},
			StepsPerRev: 64,
		},
		Pen: AxisConfig{
			Pins:        [4]int{22, 23, 24, 25},
			StepsPerRev: 90,
			Min:         -5,
			Max:         5,
		},
		Planner: PlannerConfig{
			Speed:      eggcode.Continuous,
			SpeedScale: 1,
		},
		Server: ServerConfig{Addr: ":8000"},
		Serial: SerialConfig{Baud: 9600},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, c.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Validate checks everything that is not covered by motion.Config.Validate.
func (c *Config) Validate() error {
	if c.Worker.QueueSize < 2 {
		return errors.Errorf("worker.queue_size %d: need at least 2", c.Worker.QueueSize)
	}
	if c.Worker.Idle <= 0 {
		return errors.New("worker.idle must be positive")
	}
	if c.Servo.Frequency.Frequency <= 0 {
		return errors.New("servo.frequency must be positive")
	}
	if c.Egg.StepsPerRev <= 0 || c.Pen.StepsPerRev <= 0 {
		return errors.New("steps_per_rev must be positive")
	}
	if c.Pen.Min >= c.Pen.Max {
		return errors.Errorf("pen range [%v, %v] is empty", c.Pen.Min, c.Pen.Max)
	}
	if c.PWM.TargetPeriod <= 0 {
		return errors.New("pwm.target_period must be positive")
	}
	switch c.Planner.Speed {
	case eggcode.Continuous, eggcode.Instant:
	default:
		return errors.Errorf("planner.speed %q: want continuous or instant", c.Planner.Speed)
	}
	if c.Planner.SpeedScale <= 0 {
		return errors.New("planner.speed_scale must be positive")
	}
	// the loop rate is unknown before calibration; any positive value will do
	m := c.Motion()
	m.CyclesPerSecond = 1
	m.PWM.FrameLength = 1
	return m.Validate()
}

// Motion is the loop configuration before calibration fills in the rate and
// the PWM frame.
func (c *Config) Motion() motion.Config {
	stepper := func(a AxisConfig) motion.StepperConfig {
		return motion.StepperConfig{Out1: a.Pins[0], Out2: a.Pins[1], Out3: a.Pins[2], Out4: a.Pins[3]}
	}
	return motion.Config{
		PWM: motion.PWMConfig{DutyFactor: c.PWM.DutyFactor},
		Egg: stepper(c.Egg),
		Pen: stepper(c.Pen),
		Servo: motion.ServoConfig{
			Out:       c.Servo.Pin,
			Low:       c.Servo.Low,
			High:      c.Servo.High,
			PulseLow:  c.Servo.PulseLow,
			PulseHigh: c.Servo.PulseHigh,
			Period:    c.Servo.Frequency.Period(),
		},
		Commutation: c.PWM.Commutation,
	}
}

// PlannerOptions configures the segment planner.
func (c *Config) PlannerOptions() eggcode.Options {
	return eggcode.Options{
		EggStepsPerRev: c.Egg.StepsPerRev,
		PenStepsPerRev: c.Pen.StepsPerRev,
		PenMin:         c.Pen.Min,
		PenMax:         c.Pen.Max,
		Speed:          c.Planner.Speed,
		SpeedScale:     c.Planner.SpeedScale,
	}
}

// GPIOOptions selects the register backend.
func (c *Config) GPIOOptions() gpio.Options {
	return gpio.Options{Backend: c.GPIO.Backend, Memory: c.GPIO.Memory, Chip: c.GPIO.Chip}
}
