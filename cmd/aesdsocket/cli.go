package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/117503445/aesdsocket/internal/daemon"
	"github.com/117503445/aesdsocket/internal/listener"
	"github.com/117503445/aesdsocket/internal/logging"
	"github.com/117503445/aesdsocket/internal/server"
	"github.com/117503445/aesdsocket/internal/signals"
	"github.com/117503445/aesdsocket/internal/types"
)

var cli struct {
	Run CmdRun `cmd:"" default:"withargs" help:"Run the packet log server"`
}

type CmdRun struct {
	Daemon bool `short:"d" help:"detach after the socket is bound"`

	Config     string `name:"config" hidden:"" help:"TOML config file" env:"AESDSOCKET_CONFIG"`
	ListenAddr string `name:"listen" hidden:"" help:"listen address" env:"AESDSOCKET_LISTEN"`
	DataFile   string `name:"data-file" hidden:"" help:"packet log path" env:"AESDSOCKET_DATA_FILE"`
	PIDFile    string `name:"pid-file" hidden:"" help:"pid file path" env:"AESDSOCKET_PID_FILE"`
	LogFile    string `name:"log-file" hidden:"" help:"rotated diagnostic log" env:"AESDSOCKET_LOG_FILE"`
	LogLevel   string `name:"log-level" hidden:"" help:"log level" env:"AESDSOCKET_LOG_LEVEL"`
}

// config loads the file config and applies flag and environment overrides
func (cmd *CmdRun) config() (*types.Config, error) {
	cfg, err := types.Load(cmd.Config)
	if err != nil {
		return nil, err
	}

	if cmd.ListenAddr != "" {
		cfg.ListenAddr = cmd.ListenAddr
	}
	if cmd.DataFile != "" {
		cfg.DataFile = cmd.DataFile
	}
	if cmd.PIDFile != "" {
		cfg.PIDFile = cmd.PIDFile
	}
	if cmd.LogFile != "" {
		cfg.Log.File = cmd.LogFile
	}
	if cfg.Log.File != "" {
		// The daemon child opens it after leaving the working directory
		abs, err := filepath.Abs(cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve log file: %w", err)
		}
		cfg.Log.File = abs
	}
	if cmd.LogLevel != "" {
		cfg.Log.Level = cmd.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cmd *CmdRun) Run() error {
	cfg, err := cmd.config()
	if err != nil {
		return err
	}

	child := daemon.IsChild()
	if child {
		if err := daemon.EnterRoot(); err != nil {
			return err
		}
	}

	closer, err := logging.Init(logging.Options{
		Level:     cfg.Log.Level,
		Console:   !child,
		Syslog:    cfg.Log.Syslog,
		SyslogTag: cfg.Log.SyslogTag,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(Ctx)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	state, err := signals.Install(ctx, cfg.ShutdownSignals...)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("no shutdown signals installed")
	}

	ln, err := cmd.listen(ctx, cfg, child)
	if err != nil {
		return err
	}

	if cmd.Daemon && !child {
		pid, err := daemon.Detach(ln)
		ln.Close()
		if err != nil {
			return err
		}
		log.Ctx(ctx).Info().Int("pid", pid).Msg("daemon started")
		return nil
	}

	if cfg.PIDFile != "" {
		pf, err := daemon.WritePID(cfg.PIDFile)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("path", cfg.PIDFile).Msg("failed to write pid file")
		} else {
			defer func() {
				if err := pf.Remove(); err != nil {
					log.Ctx(ctx).Warn().Err(err).Msg("failed to remove pid file")
				}
			}()
		}
	}

	return server.NewServer(cfg, state).Serve(ctx, ln)
}

// listen binds the configured address, or takes over the parent's socket in a daemon child
func (cmd *CmdRun) listen(ctx context.Context, cfg *types.Config, child bool) (net.Listener, error) {
	if child {
		ln, err := daemon.Inherit()
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).Debug().Str("addr", ln.Addr().String()).Msg("inherited listener")
		return ln, nil
	}

	ln, err := listener.Listen(cfg.ListenAddr, cfg.Backlog)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("socket setup failed")
		return nil, err
	}
	return ln, nil
}
