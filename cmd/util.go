// rnaflow: dataflow orchestration for RNA-seq sample processing.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/rnaflow/blob/master/LICENSE.txt>.

package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/exascience/rnaflow/config"
	"github.com/exascience/rnaflow/utils"
)

// ProgramMessage is the first line printed when the rnaflow binary is
// called.
var ProgramMessage = fmt.Sprint(
	"\n", utils.ProgramName, " version ", utils.ProgramVersion,
	" compiled with ", runtime.Version(),
	" - see ", utils.ProgramURL, " for more information.\n",
)

// HelpMessage is printed to show the --help flag
const HelpMessage = "Print command details:\n" +
	"[--help]\n"

func helpRequested(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-h", "--h", "-help", "--help":
			return true
		}
	}
	return false
}

// usage returns the help text of a command whose options are the
// configuration options.
func usage(name, synopsis string) string {
	var cfg config.Config
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(flags)
	flags.String(config.ConfigFileFlag, "", "YAML file with options; flags override it")
	var buf strings.Builder
	fmt.Fprintf(&buf, "%v %v\n", name, synopsis)
	flags.SetOutput(&buf)
	flags.PrintDefaults()
	return buf.String()
}

// parseConfig parses the configuration of a command. It returns false
// if only help was requested.
func parseConfig(cfg *config.Config, name string, args []string, help string) (bool, error) {
	if helpRequested(args) {
		fmt.Fprint(os.Stderr, help)
		return false, nil
	}
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	if err := cfg.Parse(flags, args); err != nil {
		fmt.Fprint(os.Stderr, help)
		return false, err
	}
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	return true, nil
}

func createLogFilename() string {
	t := time.Now()
	zone, _ := t.Zone()
	return fmt.Sprintf("logs/%[1]v/%[1]v-%d-%02d-%02d-%02d-%02d-%02d-%09d-%v.log", utils.ProgramName, t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

// newLogger returns a logfmt logger writing to w, filtered by the log
// level of cfg.
func newLogger(w io.Writer, cfg *config.Config) (log.Logger, error) {
	filter, err := cfg.LevelFilter()
	if err != nil {
		return nil, err
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, filter)
	return log.With(logger, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller), nil
}

// setLogOutput creates a log file under the log path of cfg, redirects
// standard error to it, and returns a logger that writes both to the
// log file and to the original standard error.
func setLogOutput(cfg *config.Config) (log.Logger, error) {
	logPath := createLogFilename()
	var fullPath string
	if cfg.LogPath == "" {
		fullPath = filepath.Join(os.Getenv("HOME"), logPath)
	} else {
		fullPath = filepath.Join(cfg.LogPath, logPath)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		return nil, errors.Wrap(err, "while creating log directory")
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errors.Wrap(err, "while creating log file")
	}
	fmt.Fprint(f, ProgramMessage)

	orgStderr, err := unix.Dup(2)
	if err != nil {
		return nil, errors.Wrap(err, "while duplicating stderr")
	}
	ferr := os.NewFile(uintptr(orgStderr), "/dev/stderr")
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		return nil, errors.Wrap(err, "while redirecting stderr")
	}

	logger, err := newLogger(io.MultiWriter(f, ferr), cfg)
	if err != nil {
		return nil, err
	}
	level.Info(logger).Log("msg", "created log file", "path", fullPath)
	level.Info(logger).Log("msg", "command line", "args", strings.Join(os.Args, " "))
	return logger, nil
}

func timedRun(timed bool, logger log.Logger, msg string, f func() error) error {
	if timed {
		level.Info(logger).Log("msg", msg)
		start := time.Now()
		defer func() {
			level.Info(logger).Log("msg", "elapsed time", "phase", msg, "elapsed", time.Since(start))
		}()
	}
	return f()
}
