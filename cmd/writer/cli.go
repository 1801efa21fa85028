package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/117503445/aesdsocket/internal/logging"
)

var cli struct {
	Write CmdWrite `cmd:"" default:"withargs" help:"Write text to a file, replacing its contents"`
}

type CmdWrite struct {
	File string `arg:"" help:"file to create or truncate"`
	Text string `arg:"" help:"text to write"`

	LogLevel string `name:"log-level" hidden:"" default:"info" env:"WRITER_LOG_LEVEL"`
	NoSyslog bool   `name:"no-syslog" hidden:"" env:"WRITER_NO_SYSLOG"`
}

func (cmd *CmdWrite) Run() error {
	closer, err := logging.Init(logging.Options{
		Level:     cmd.LogLevel,
		Console:   true,
		Syslog:    !cmd.NoSyslog,
		SyslogTag: "writer",
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer closer.Close()

	if err := writeFile(cmd.File, cmd.Text); err != nil {
		log.Error().Err(err).Str("file", cmd.File).Msg("write failed")
		return err
	}
	log.Debug().Str("file", cmd.File).Str("text", cmd.Text).Msg("wrote file")
	return nil
}

// writeFile creates or truncates path and writes text in a single call
func writeFile(path, text string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
