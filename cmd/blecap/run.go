package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecap/internal/actuator"
	"github.com/srg/blecap/internal/bearer"
	"github.com/srg/blecap/internal/capsense"
	"github.com/srg/blecap/internal/i2cdev"
	"github.com/srg/blecap/internal/peripheral"
	"github.com/srg/blecap/internal/ptyio"
	"github.com/srg/blecap/internal/sim"
	"github.com/srg/blecap/pkg/config"
)

// scriptedPollInterval paces a scripted sensor when the configuration asks
// for back-to-back polling.
const scriptedPollInterval = 50 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device",
	Long: `Starts the device with a log-only LED driver and a simulated sensor.

ATT traffic is framed over stdin/stdout, or over a pseudo-terminal with
--pty, whose slave path is printed on startup. Frames are
len(u16 LE) | kind | payload, see the bearer package.

The sensor is read from a Linux I2C adapter with --i2c. Otherwise a
simulated sensor reports idle frames unless --scenario supplies frame and
bus_error steps, which are played back in order at the poll interval.

Example:
  blecap run --pty --symlink /tmp/capsense
  blecap run --config capsense.yaml --scenario touches.yaml
  blecap run --pty --i2c /dev/i2c-1`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runPTY      bool
	runScenario string
	runSymlink  string
	runI2C      string
)

func init() {
	runCmd.Flags().BoolVar(&runPTY, "pty", false, "Serve ATT over a pseudo-terminal instead of stdio")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Scenario file whose frame steps feed the simulated sensor")
	runCmd.Flags().StringVar(&runSymlink, "symlink", "", "Create a symlink to the PTY slave (requires --pty)")
	runCmd.Flags().StringVar(&runI2C, "i2c", "", "Read the sensor from this I2C adapter instead of simulating it")
}

type stdio struct {
	io.Reader
	io.Writer
}

func (s stdio) Close() error {
	if c, ok := s.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if runSymlink != "" && !runPTY {
		return errors.New("--symlink requires --pty")
	}
	if runI2C != "" && runScenario != "" {
		return errors.New("--i2c and --scenario are mutually exclusive")
	}

	cmd.SilenceUsage = true

	sensor, closeSensor, err := openSensor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSensor()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	endpoint, err := openEndpoint(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer endpoint.Close()

	dev, err := peripheral.New(peripheral.Options{
		Config: cfg,
		Sensor: sensor,
		Link:   bearer.New(endpoint, cfg.Bearer.TxQueue, logger),
		LED:    actuator.LogDriver{Logger: logger},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	err = dev.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openSensor returns the frame source selected by --i2c or --scenario and a
// function releasing it.
func openSensor(cfg *config.Config, logger *logrus.Logger) (capsense.FrameReader, func(), error) {
	if runI2C != "" {
		bus, err := i2cdev.Open(runI2C, logger)
		if err != nil {
			return nil, nil, err
		}
		return capsense.NewTxReader(bus, cfg.Sensor.Address), func() { _ = bus.Close() }, nil
	}

	bus, err := scriptedBus(cfg, runScenario)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Sensor.PollInterval == 0 {
		cfg.Sensor.PollInterval = scriptedPollInterval
	}
	return capsense.NewByteReader(bus, cfg.Sensor.Address, cfg.Sensor.ByteTimeout), func() {}, nil
}

func scriptedBus(cfg *config.Config, path string) (*sim.ScriptBus, error) {
	bus := sim.NewScriptBus(cfg.Sensor.Address, true)
	if path == "" {
		return bus, nil
	}
	sc, err := sim.Load(path)
	if err != nil {
		return nil, err
	}
	for _, s := range sc.Steps {
		switch s.Kind() {
		case "frame":
			bus.Push(capsense.Reading{Button0: s.Frame[0], Button1: s.Frame[1], Slider: s.Frame[2]})
		case "bus_error":
			bus.Fail()
		}
	}
	return bus, nil
}

func openEndpoint(cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger) (io.ReadWriteCloser, error) {
	if !runPTY {
		return stdio{Reader: cmd.InOrStdin(), Writer: cmd.OutOrStdout()}, nil
	}

	port, err := ptyio.Open(ptyio.Options{
		ReadCap:  cfg.Bearer.ReadCap,
		WriteCap: cfg.Bearer.WriteCap,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	path := port.SlavePath()
	if runSymlink != "" {
		_ = os.Remove(runSymlink)
		if err := os.Symlink(port.SlavePath(), runSymlink); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to create symlink %s: %w", runSymlink, err)
		}
		path = runSymlink
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PTY: %s\n", path)
	return &symlinkedPort{Port: port, symlink: runSymlink}, nil
}

// symlinkedPort removes its symlink on Close.
type symlinkedPort struct {
	*ptyio.Port
	symlink string
}

func (p *symlinkedPort) Close() error {
	if p.symlink != "" {
		_ = os.Remove(p.symlink)
	}
	return p.Port.Close()
}
