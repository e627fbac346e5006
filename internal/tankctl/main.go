package tankctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tank-controller/hardware"
	"github.com/TheCacophonyProject/tank-controller/internal/balancer"
	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/alexflint/go-arg"
)

var version = "<not set>"
var log = logging.NewLogger("info")

type Args struct {
	Measure   *Measure   `arg:"subcommand:measure"   help:"Measure both tanks."`
	Pump      *Pump      `arg:"subcommand:pump"      help:"Run the pump for a number of seconds."`
	Indicator *Indicator `arg:"subcommand:indicator" help:"Set the indicator of a tank."`
	ConfigDir string     `arg:"-c,--config" help:"configuration folder"`
	logging.LogArgs
}

type Measure struct {
	Count int `arg:"--count" default:"1" help:"Number of measurements to make, one every second."`
}

type Pump struct {
	Direction string  `arg:"--direction,required" help:"a-to-b or b-to-a"`
	Seconds   int     `arg:"--seconds" default:"5" help:"How long to run the pump for."`
	Duty      float64 `arg:"--duty" default:"1" help:"Fraction of full power, from 0 to 1."`
}

type Indicator struct {
	Tank  string `arg:"--tank,required" help:"a or b"`
	State string `arg:"--state,required" help:"red, yellow, green or off"`
}

var defaultArgs = Args{
	ConfigDir: goconfig.DefaultConfigDir,
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	if err == nil && args.Measure == nil && args.Pump == nil && args.Indicator == nil {
		parser.WriteHelp(os.Stdout)
		return args, errors.New("no subcommand given")
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	log.Infof("Running version: %s", version)

	conf, err := balancer.ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	hw, err := hardware.Open(conf.Pins, hardware.Settings{
		EchoTimeout:   conf.EchoTimeout,
		PumpFrequency: conf.Balance.PumpFrequency(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Error(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args.Measure != nil:
		sensors := map[tank.ID]sensor{}
		for id, t := range hw.Tanks {
			sensors[id] = t.Sensor
		}
		est := tank.NewEstimator(conf.Geometry, conf.Calibration)
		return measure(ctx, os.Stdout, sensors, est, conf.Thresholds, args.Measure.Count)
	case args.Pump != nil:
		dir, err := parseDirection(args.Pump.Direction)
		if err != nil {
			return err
		}
		cmd := pump.Command{Direction: dir, Duty: args.Pump.Duty}
		return runPump(ctx, hw.Pump, cmd, time.Duration(args.Pump.Seconds)*time.Second)
	case args.Indicator != nil:
		id, err := tank.ParseID(args.Indicator.Tank)
		if err != nil {
			return err
		}
		state, err := tank.ParseFillState(args.Indicator.State)
		if err != nil {
			return err
		}
		if err := setIndicator(hw.Tanks[id].Indicator, state); err != nil {
			return err
		}
		// Closing the hardware would turn the indicator off again.
		log.Info("Indicator set, press Ctrl-C to exit.")
		<-ctx.Done()
		return nil
	}
	return nil
}

var sleepFn = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type sensor interface {
	Measure() (time.Duration, error)
}

func measure(ctx context.Context, w io.Writer, sensors map[tank.ID]sensor, est tank.Estimator, th tank.Thresholds, count int) error {
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := sleepFn(ctx, time.Second); err != nil {
				return nil
			}
		}
		for _, id := range tank.IDs {
			echo, err := sensors[id].Measure()
			if err != nil {
				fmt.Fprintf(w, "%s: %v\n", id, err)
				continue
			}
			r := est.Reading(id, echo)
			fmt.Fprintf(w, "%s: echo %s, height %.2fcm, volume %.2fcm3, %s\n",
				id, echo, r.HeightCm, r.VolumeCm3, th.Classify(r.VolumeCm3))
		}
	}
	return nil
}

func parseDirection(s string) (pump.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a-to-b", "atob":
		return pump.AToB, nil
	case "b-to-a", "btoa":
		return pump.BToA, nil
	}
	return pump.Off, fmt.Errorf("unknown pump direction '%s'", s)
}

type actuator interface {
	Apply(c pump.Command) error
	Stop() error
}

// runPump runs the pump for d, or until ctx is cancelled, and always stops it.
func runPump(ctx context.Context, p actuator, cmd pump.Command, d time.Duration) error {
	log.Infof("Running pump %s for %s", cmd, d)
	if err := p.Apply(cmd); err != nil {
		return errors.Join(err, p.Stop())
	}
	if err := sleepFn(ctx, d); err != nil {
		log.Info("Stopping pump early")
	}
	log.Info("Stopping pump")
	return p.Stop()
}

type indicator interface {
	Apply(s tank.FillState) error
	Off() error
}

func setIndicator(i indicator, s tank.FillState) error {
	if s == tank.Unknown {
		return i.Off()
	}
	return i.Apply(s)
}
