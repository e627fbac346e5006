/*
tank-controller - Balances the liquid level of two tanks
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package balancer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tank-controller/hardware"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/TheCacophonyProject/tank-controller/telemetry"
	"github.com/alexflint/go-arg"
)

const telemetryQueueSize = 32

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	Once      bool   `arg:"--once" help:"Run a single cycle and exit."`
	EnvFile   string `arg:"--env-file" help:"File with the TANK_ prefixed secrets, ignored if missing."`
	NoDBus    bool   `arg:"--no-dbus" help:"Don't start the D-Bus status service."`
	ConfigDir string `arg:"-c,--config" help:"configuration folder"`
	logging.LogArgs
}

var defaultArgs = Args{
	EnvFile:   "/etc/cacophony/tank-controller.env",
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
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	telemetry.SetLogger(log)

	log.Printf("Running version: %s", version)

	fileConfig, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	conf := *fileConfig
	secrets, err := LoadSecrets(args.EnvFile)
	if err != nil {
		return err
	}
	secrets.Apply(&conf)

	go func() {
		if err := checkConfigChanges(fileConfig, args.ConfigDir); err != nil {
			log.Errorf("Failed to watch config: %v", err)
		}
	}()

	hw, err := hardware.Open(conf.Pins, hardware.Settings{
		EchoTimeout:   conf.EchoTimeout,
		PumpFrequency: conf.Balance.PumpFrequency(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Errorf("Failed to release hardware: %v", err)
		}
	}()

	sink, closeSink := newSink(conf)
	defer closeSink()

	status := NewStatus()
	if !args.NoDBus {
		log.Info("Starting D-Bus service.")
		if err := startService(status); err != nil {
			return err
		}
	}

	tanks := map[tank.ID]TankIO{}
	for id, t := range hw.Tanks {
		tanks[id] = TankIO{Sensor: t.Sensor, Indicator: t.Indicator}
	}
	loop, err := NewLoop(conf, tanks, hw.Pump, sink, status)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.Once {
		return loop.Cycle(ctx)
	}
	log.Infof("Sampling every %s", conf.SamplePeriod)
	return loop.Run(ctx)
}

// newSink builds the telemetry sinks from the config. They are published to from a queue so a
// slow broker or endpoint never holds up the control loop.
func newSink(c Config) (telemetry.Sink, func()) {
	sinks := telemetry.Multi{telemetry.NewEventSink()}
	var mqttSink *telemetry.MQTTSink
	if c.MQTT.Enabled() {
		var err error
		if mqttSink, err = telemetry.NewMQTTSink(c.MQTT); err != nil {
			log.Errorf("MQTT telemetry disabled: %v", err)
		} else {
			sinks = append(sinks, mqttSink)
		}
	}
	if c.HTTP.Enabled() {
		sinks = append(sinks, telemetry.NewHTTPSink(c.HTTP))
	}
	if len(sinks) == 1 {
		log.Info("No MQTT broker or HTTP endpoint configured, logging telemetry.")
		sinks = append(sinks, telemetry.LogSink{})
	}

	q := telemetry.NewQueue(sinks, telemetryQueueSize)
	go q.Run()
	return q, func() {
		if err := q.Close(5 * time.Second); err != nil {
			log.Error(err)
		}
		if mqttSink != nil {
			mqttSink.Close()
		}
	}
}
