package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parrot/internal/config"
	"github.com/teslashibe/go-parrot/pkg/bottango"
)

var servoTestCmd = &cobra.Command{
	Use:   "servo-test",
	Short: "Handshake with the controller and sweep every servo",
	RunE:  runServoTest,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every line the controller sends",
	RunE:  runMonitor,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := bottango.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{servoTestCmd, monitorCmd} {
		c.Flags().String("serial-port", "", "Bottango controller serial port")
		c.Flags().Int("baud", 0, "baud rate")
	}
	servoTestCmd.Flags().Duration("pause", 500*time.Millisecond, "pause between sweep positions")
	servoTestCmd.Flags().Bool("init", true, "register servo pins before sweeping")
	servoTestCmd.Flags().Duration("curve", 0, "after the sweep, run each servo through a curve of this duration (0 skips)")
}

// openDevice loads the device section of the config and opens its serial port.
func openDevice(cmd *cobra.Command) (*config.Config, *bottango.StreamTransport, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("serial-port") {
		cfg.Device.SerialPort, _ = cmd.Flags().GetString("serial-port")
	}
	if cmd.Flags().Changed("baud") {
		cfg.Device.BaudRate, _ = cmd.Flags().GetInt("baud")
	}
	logger := setupLogger(cfg)

	t, err := bottango.OpenSerial(cfg.Device.SerialPort, cfg.Device.BaudRate, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, t, nil
}

func runServoTest(cmd *cobra.Command, _ []string) error {
	cfg, t, err := openDevice(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	link := bottango.NewLink(t,
		bottango.WithSettleDelay(cfg.Device.SettleDelay),
		bottango.WithBootTimeout(cfg.Device.BootTimeout),
		bottango.WithRetryDelay(cfg.Device.RetryDelay),
		bottango.WithCommandTimeout(cfg.Device.CommandTimeout),
		bottango.WithLinkLogger(logger),
	)
	defer link.Close()

	if err := link.Connect(ctx); err != nil {
		return err
	}
	if register, _ := cmd.Flags().GetBool("init"); register {
		if err := link.InitServos(ctx, bottango.DefaultServos); err != nil {
			return err
		}
	}

	pause, _ := cmd.Flags().GetDuration("pause")
	logger.Info("sweeping servos", "pause", pause)
	if err := link.Sweep(ctx, pause); err != nil {
		return err
	}
	if curve, _ := cmd.Flags().GetDuration("curve"); curve > 0 {
		if err := link.CurveSweep(ctx, bottango.DefaultServos, curve); err != nil {
			return err
		}
	}
	logger.Info("servo test complete")
	return nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	_, t, err := openDevice(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines():
			if !ok {
				return errors.New("serial port closed")
			}
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05.000"), line)
		}
	}
}
