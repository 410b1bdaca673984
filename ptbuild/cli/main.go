// Copyright 2025 The Pagetable Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the main entrypoint for ptbuild.
package cli

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"pagetable.dev/pagetable/ptbuild/cmd"
)

var (
	debug     = flag.Bool("debug", false, "enable debug logging.")
	logFormat = flag.String("log-format", "text", "log format: text or json.")
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	setupLogging(*debug, *logFormat)
	logrus.Debugf("args: %v", os.Args)

	os.Exit(int(subcommands.Execute(context.Background())))
}

// forEachCmd invokes the passed callback for each command supported by
// ptbuild.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Build), "")
	cb(new(cmd.Dump), "")
	cb(new(cmd.Lookup), "")
	cb(new(cmd.Verify), "")
}

// setupLogging configures the process-wide logger. Logs go to stderr;
// stdout carries command output only.
func setupLogging(debug bool, format string) {
	switch format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	}
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
