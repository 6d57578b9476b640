package parrot

import (
	"context"
	"time"

	"github.com/teslashibe/go-parrot/internal/config"
	"github.com/teslashibe/go-parrot/pkg/bottango"
	"github.com/teslashibe/go-parrot/pkg/robot"
)

// setPosition forwards controller output to the device link. Until the link
// is ready the controller sees ErrNotReady and retries on the next tick.
func (a *App) setPosition(ctx context.Context, axis robot.Axis, pos float64) error {
	l := a.link.Load()
	if l == nil || !l.Ready() {
		return bottango.ErrNotReady
	}
	return l.SetPosition(ctx, axis, pos)
}

func (a *App) linkOptions() []bottango.LinkOption {
	d := a.cfg.Device
	return []bottango.LinkOption{
		bottango.WithSettleDelay(d.SettleDelay),
		bottango.WithBootTimeout(d.BootTimeout),
		bottango.WithRetryDelay(d.RetryDelay),
		bottango.WithCommandTimeout(d.CommandTimeout),
		bottango.WithLinkLogger(a.logger),
		bottango.WithLinkMetrics(a.metrics),
	}
}

// runDevice brings up the controller link for the configured transport and
// holds it until ctx is done.
func (a *App) runDevice(ctx context.Context) error {
	var (
		t    bottango.Transport
		opts = a.linkOptions()
		ws   bool
	)
	switch {
	case a.transport != nil:
		t = a.transport
	case a.wsDevice != nil:
		// Websocket controllers skip the boot handshake and never ack.
		t = a.wsDevice
		opts = append(opts, bottango.WithoutHandshake(), bottango.WithoutAcks())
		ws = true
	case a.cfg.Device.Transport == config.TransportSerial:
		st, err := a.openSerial(ctx)
		if err != nil {
			return err
		}
		t = st
	default:
		a.logger.Info("no device transport, animation runs without hardware")
		<-ctx.Done()
		return ctx.Err()
	}

	l := bottango.NewLink(t, opts...)
	a.link.Store(l)
	if err := l.Connect(ctx); err != nil {
		return err
	}
	if !ws && a.cfg.Device.InitServos {
		if err := l.InitServos(ctx, bottango.DefaultServos); err != nil {
			a.logger.Warn("servo registration failed", "error", err)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// openSerial opens the configured port, retrying until it appears.
func (a *App) openSerial(ctx context.Context) (*bottango.StreamTransport, error) {
	d := a.cfg.Device
	retry := d.RetryDelay
	if retry <= 0 {
		retry = bottango.DefaultRetryDelay
	}
	for {
		st, err := bottango.OpenSerial(d.SerialPort, d.BaudRate, a.logger)
		if err == nil {
			return st, nil
		}
		a.logger.Warn("serial port unavailable", "port", d.SerialPort, "error", err, "retry_in", retry)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// deviceState describes the link for status reporting.
func (a *App) deviceState() string {
	if a.cfg.Device.Transport == config.TransportNone && a.transport == nil {
		return config.TransportNone
	}
	l := a.link.Load()
	if l == nil {
		return "disconnected"
	}
	return l.State().String()
}
