// Package daemon implements the monitor lifecycle: logging, metrics, the
// capture pipeline and signal handling.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/igmpmon/internal/capture"
	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/log"
	"firestige.xyz/igmpmon/internal/metrics"
	"firestige.xyz/igmpmon/internal/pipeline"
	"firestige.xyz/igmpmon/internal/sink"
)

// Daemon manages the monitor process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	pipeline      *pipeline.Pipeline
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	pipelineDone chan error
	sigChan      chan os.Signal
	stopOnce     sync.Once
	runErr       error
}

// New creates a Daemon for an already loaded and validated configuration.
// configPath is re-read on reload; it may be empty.
func New(cfg *config.GlobalConfig, configPath, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		pipelineDone: make(chan error, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes and starts all daemon components. Components started
// before a failure are stopped again.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"hostname": d.config.Node.Hostname,
		"source":   d.config.Capture.Source,
		"mode":     d.config.Capture.Mode,
		"config":   d.configPath,
	}).Info("starting igmpmon")

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build the pipeline: source, sinks, decoder
	p, err := d.buildPipeline()
	if err != nil {
		d.stopMetrics()
		d.removePIDFile()
		return err
	}
	d.pipeline = p

	// 5. Run it in the background; Run waits for it
	go func() {
		d.pipelineDone <- p.Run(d.ctx)
	}()

	log.GetLogger().Info("igmpmon started")
	return nil
}

func (d *Daemon) buildPipeline() (*pipeline.Pipeline, error) {
	src, err := capture.New(d.config.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture source: %w", err)
	}

	sinks, err := sink.NewAll(d.config.Sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to create sinks: %w", err)
	}

	return pipeline.NewBuilder().
		FromConfig(d.config).
		WithInterface(capture.InterfaceName(d.config.Capture)).
		WithSource(src).
		WithSinks(sinks...).
		Build(), nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	log.GetLogger().Info("initiating graceful shutdown")

	// 1. Cancel context; the pipeline stops its source and closes the sinks
	d.cancel()
	if d.pipeline != nil {
		select {
		case err := <-d.pipelineDone:
			d.runErr = err
		case <-time.After(10 * time.Second):
			log.GetLogger().Warn("pipeline did not stop within 10s")
		}
	}

	// 2. Stop metrics server
	d.stopMetrics()

	// 3. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 4. Remove PID file
	if err := d.removePIDFile(); err != nil {
		log.GetLogger().WithError(err).Error("error removing PID file")
	}

	log.GetLogger().Info("igmpmon stopped")

	// 5. Flush logs
	log.Close()
}

// Run blocks until shutdown is triggered and returns the pipeline's error,
// if any. Shutdown is triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. the capture source running out (file replay)
//  3. the context being cancelled
//
// SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	log.GetLogger().Info("igmpmon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.GetLogger().WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return d.runErr

			case syscall.SIGHUP:
				log.GetLogger().Info("received reload signal")
				if err := d.Reload(); err != nil {
					log.GetLogger().WithError(err).Error("failed to reload config")
				}
			}

		case err := <-d.pipelineDone:
			// Pipeline ended on its own; hand the result to stop
			d.pipelineDone <- err
			if err != nil {
				log.GetLogger().WithError(err).Error("pipeline failed")
			} else {
				log.GetLogger().Info("pipeline finished")
			}
			d.Stop()
			return d.runErr

		case <-d.ctx.Done():
			d.Stop()
			return d.runErr
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level, pattern and appenders.
// Cold (requires restart): everything else.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no configuration file to reload")
	}
	log.GetLogger().WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if !reflect.DeepEqual(newConfig.Log, d.config.Log) {
		d.config.Log = newConfig.Log
		if err := d.initLogging(); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if !reflect.DeepEqual(newConfig.Capture, d.config.Capture) {
		requiresRestart = append(requiresRestart, "capture")
	}
	if !reflect.DeepEqual(newConfig.Sinks, d.config.Sinks) {
		requiresRestart = append(requiresRestart, "sinks")
	}
	if newConfig.Pipeline != d.config.Pipeline || newConfig.Decoder != d.config.Decoder {
		requiresRestart = append(requiresRestart, "pipeline")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

// Stats returns the pipeline statistics, zero before Start.
func (d *Daemon) Stats() pipeline.Stats {
	if d.pipeline == nil {
		return pipeline.Stats{}
	}
	return d.pipeline.Stats()
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	cfg := d.config.Log
	if err := log.Init(&cfg); err != nil {
		return err
	}
	log.GetLogger().WithField("level", cfg.Level).Debug("logging initialized")
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		log.GetLogger().Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	if err := d.metricsServer.Stop(context.Background()); err != nil {
		log.GetLogger().WithError(err).Error("error stopping metrics server")
	}
	d.metricsServer = nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	log.GetLogger().WithFields(map[string]interface{}{"path": d.pidFile, "pid": pid}).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
