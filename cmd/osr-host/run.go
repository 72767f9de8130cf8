package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/breeze-rmm/offscreen/internal/config"
	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/health"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/overlay"
	"github.com/breeze-rmm/offscreen/internal/preview"
	"github.com/breeze-rmm/offscreen/internal/sim"
	"github.com/breeze-rmm/offscreen/internal/stats"
	"github.com/breeze-rmm/offscreen/internal/view"
	"github.com/breeze-rmm/offscreen/internal/workerpool"
)

var log = logging.L("main")

const shutdownTimeout = 10 * time.Second

// hostComponents holds everything startHost wires together so shutdown can
// tear it down in order.
type hostComponents struct {
	cfg      *config.Config
	seq      *workerpool.Sequence
	metrics  *stats.Pipeline
	page     *sim.Page
	comp     *sim.Compositor
	capturer *sim.Capturer
	ctrl     *view.Controller
	channel  *overlay.Channel
	health   *health.Monitor
	preview  *preview.Server
	logFile  *logging.RotatingWriter
}

func runHost() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logFile, err := initLogging(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info("starting osr-host",
		"version", version,
		"mode", cfg.Capture.Mode,
		"size", fmt.Sprintf("%dx%d", cfg.View.Width, cfg.View.Height),
		"frameRate", cfg.View.FrameRate)

	comps, err := startHost(cfg)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return err
	}
	comps.logFile = logFile

	if err := config.Watch(cfgFile, comps.applyConfig); err != nil {
		log.Warn("config watch unavailable", logging.KeyError, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchLogReopen(ctx, logFile)
	go comps.reportMetrics(ctx, time.Duration(cfg.MetricsIntervalSeconds)*time.Second)

	<-ctx.Done()
	log.Info("shutting down", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	comps.shutdown(shutdownCtx)
	return nil
}

func initLogging(cfg *config.Config) (*logging.RotatingWriter, error) {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
		return nil, nil
	}
	rw, err := logging.NewRotatingWriter(cfg.LogFile, logRotation(cfg))
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	var out io.Writer = rw
	if hasConsole() {
		out = logging.TeeWriter(os.Stderr, rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return rw, nil
}

func logRotation(cfg *config.Config) logging.Rotation {
	return logging.Rotation{MaxSizeMB: cfg.LogMaxSizeMB, MaxBackups: cfg.LogMaxBackups}
}

func startHost(cfg *config.Config) (*hostComponents, error) {
	c := &hostComponents{
		cfg:     cfg,
		seq:     workerpool.NewSequence("ui"),
		metrics: stats.New(),
		health:  health.NewMonitor(),
	}

	size := gfx.Size{Width: cfg.View.Width, Height: cfg.View.Height}
	c.page = sim.NewPage(gfx.ScaleToPixels(size, cfg.View.ScaleFactor), cfg.View.Transparent)
	c.comp = sim.NewCompositor(c.page, cfg.Capture.FailureRate)
	renderHost := sim.NewRenderHost(c.seq)

	c.channel = overlay.NewChannel(overlay.Options{
		Module:        cfg.Overlay.Module,
		Symbol:        cfg.Overlay.Symbol,
		RecordVersion: uint32(cfg.Overlay.RecordVersion),
		Metrics:       c.metrics,
	})
	c.channel.SetTargetProcess(cfg.Overlay.ProcessID)
	c.channel.SetActive(cfg.Overlay.Enabled)

	if cfg.Preview.ListenAddr != "" {
		c.preview = preview.NewServer(preview.Config{
			ListenAddr:  cfg.Preview.ListenAddr,
			Quality:     cfg.Preview.Quality,
			ScaleFactor: cfg.Preview.ScaleFactor,
			Health:      c.health,
		})
		if _, err := c.preview.Start(); err != nil {
			c.page.Close()
			return nil, fmt.Errorf("start preview server: %w", err)
		}
	}

	opts := view.Options{
		RenderHost:  renderHost,
		Compositor:  c.comp,
		FrameHost:   sim.NewFrameHost(),
		Poster:      c.seq,
		OnPaint:     c.paint,
		Size:        size,
		ScaleFactor: cfg.View.ScaleFactor,
		FrameRate:   cfg.View.FrameRate,
		Painting:    cfg.View.Painting,
		RetryLimit:  cfg.Capture.RetryLimit,
		Metrics:     c.metrics,
	}
	if cfg.Capture.Mode == config.CaptureModeVideo {
		c.capturer = sim.NewCapturer(c.comp, nil)
		opts.VideoCapturer = c.capturer
	}
	c.ctrl = view.NewController(opts)
	renderHost.Attach(c.ctrl)
	c.comp.Attach(c.ctrl)

	software := cfg.Capture.Mode == config.CaptureModeSoftware
	c.seq.Post(func() {
		if software {
			s, err := c.ctrl.CreateSoftwareSurface()
			if err != nil {
				log.Error("software surface unavailable, falling back to copy capture", logging.KeyError, err)
			} else {
				c.comp.SetSurface(s)
			}
		}
		c.ctrl.Show()
	})
	return c, nil
}

// paint is the frame sink: the preview takes a copy, the channel ships the
// frame and completes it.
func (c *hostComponents) paint(f *frame.Frame) {
	if c.preview != nil {
		c.preview.Publish(f)
	}
	c.channel.Send(f)
}

// applyConfig applies the settings that can change at runtime. Capture mode
// and transport settings need a restart.
func (c *hostComponents) applyConfig(next *config.Config) {
	c.seq.Post(func() {
		prev := c.cfg
		if next.Capture.Mode != prev.Capture.Mode ||
			next.Overlay.Module != prev.Overlay.Module ||
			next.Overlay.Symbol != prev.Overlay.Symbol ||
			next.Overlay.RecordVersion != prev.Overlay.RecordVersion {
			log.Warn("capture mode and overlay transport changes take effect after restart")
		}
		if c.logFile != nil {
			c.logFile.SetRotation(logRotation(next))
		}

		c.channel.SetTargetProcess(next.Overlay.ProcessID)
		c.channel.SetActive(next.Overlay.Enabled)

		c.ctrl.SetFrameRate(next.View.FrameRate)
		c.ctrl.SetScaleFactor(next.View.ScaleFactor)
		c.ctrl.SetSize(gfx.Size{Width: next.View.Width, Height: next.View.Height})
		c.ctrl.SetPainting(next.View.Painting)
		c.cfg = next
	})
}

func (c *hostComponents) reportMetrics(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("process stats unavailable", logging.KeyError, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	prev := c.metrics.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := c.metrics.Snapshot()
			c.health.Evaluate(prev, cur, health.PipelineState{
				Painting:       c.ctrl.Painting(),
				TransportReady: c.transportReady(),
			})
			prev = cur

			args := cur.LogArgs()
			args = append(args, "strategy", c.ctrl.Strategy(), "health", string(c.health.Overall()))
			if c.capturer != nil {
				args = append(args, "inFlight", c.capturer.InFlight())
			}
			if proc != nil {
				if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
					args = append(args, "rssMB", mem.RSS/(1024*1024))
				}
				if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
					args = append(args, "cpuPercent", cpu)
				}
			}
			log.Info("pipeline stats", args...)
		}
	}
}

func (c *hostComponents) transportReady() bool {
	if !c.channel.Active() || c.channel.TargetProcess() == 0 {
		return false
	}
	ok, _ := c.channel.Available()
	return ok
}

func (c *hostComponents) shutdown(ctx context.Context) {
	c.seq.Post(c.ctrl.Destroy)
	c.seq.Stop(ctx)

	if c.preview != nil {
		if err := c.preview.Shutdown(ctx); err != nil {
			log.Warn("preview shutdown", logging.KeyError, err)
		}
	}
	if err := c.page.Close(); err != nil {
		log.Debug("closing page", logging.KeyError, err)
	}
	log.Info("osr-host stopped", c.metrics.Snapshot().LogArgs()...)
	if c.logFile != nil {
		c.logFile.Close()
	}
}
