/*
 * uqmid - Main process.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/openwrt/uqmid/config/configparser"
	"github.com/openwrt/uqmid/internal/codec"
	"github.com/openwrt/uqmid/internal/daemonconfig"
	"github.com/openwrt/uqmid/internal/fsm/modem"
	"github.com/openwrt/uqmid/internal/kernel"
	"github.com/openwrt/uqmid/internal/lifecycle"
	logger "github.com/openwrt/uqmid/util/logger"
)

var Logger *slog.Logger

// modemProfiles accumulates per-modem attach options parsed from the
// configparser MODEM stanza, keyed by modem name, for ConfigureModem
// to apply once each modem is added.
var modemProfiles = map[string]modem.Config{}

// registerModemStanza wires "MODEM <name> apn=... pin=... roaming"
// lines into modemProfiles.
func registerModemStanza() {
	configparser.RegisterModel("MODEM", configparser.TypeModel, func(name string, options []configparser.Option) error {
		cfg := modem.Config{}
		for _, opt := range options {
			switch strings.ToUpper(opt.Name) {
			case "APN":
				cfg.APN = opt.EqualOpt
			case "USERNAME":
				cfg.Username = opt.EqualOpt
			case "PASSWORD":
				cfg.Password = opt.EqualOpt
			case "PIN":
				cfg.PIN = opt.EqualOpt
			case "PUK":
				cfg.PUK = opt.EqualOpt
			case "ROAMING":
				cfg.Roaming = true
			case "PDPTYPE":
				switch strings.ToUpper(opt.EqualOpt) {
				case "IPV6":
					cfg.PDPType = codec.PDPTypeIPv6
				case "IPV4V6":
					cfg.PDPType = codec.PDPTypeIPv4v6
				case "PPP":
					cfg.PDPType = codec.PDPTypePPP
				default:
					cfg.PDPType = codec.PDPTypeIPv4
				}
			}
		}
		modemProfiles[name] = cfg
		return nil
	})
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "/etc/uqmid/uqmid.yaml", "Daemon configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file (overrides the config file's log_file)")
	optDebug := getopt.BoolLong("debug", 'd', "Mirror log output to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	registerModemStanza()

	cfg, err := daemonconfig.Load(*optConfig)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	logPath := cfg.LogFile
	if *optLogFile != "" {
		logPath = *optLogFile
	}

	var out io.Writer
	if logPath != "" {
		out = logger.RotatingWriter(logPath, maxOrDefault(cfg.LogMaxSizeMB, 10), cfg.LogMaxBackups, cfg.LogMaxAgeDays)
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger = slog.New(logger.NewHandler(out, &slog.HandlerOptions{Level: programLevel, AddSource: false}, cfg.Debug || *optDebug))
	slog.SetDefault(Logger)

	Logger.Info("uqmid started", "config", *optConfig)

	if cfg.ProfileFile != "" {
		if err := configparser.LoadConfigFile(cfg.ProfileFile); err != nil {
			Logger.Error("loading modem profile file", "error", err)
			os.Exit(1)
		}
	}

	lc := lifecycle.New(kernel.Sysfs{}, Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go lc.Run(ctx)

	for _, m := range cfg.Modems {
		driver := lifecycle.DriverQMI
		if strings.EqualFold(m.Driver, "mbim") {
			driver = lifecycle.DriverMBIM
		}
		if err := lc.AddModem(m.Name, m.Device, driver); err != nil {
			Logger.Error("add_modem failed", "modem", m.Name, "error", err)
			continue
		}
		if profile, ok := modemProfiles[m.Name]; ok {
			if err := lc.ConfigureModem(m.Name, profile); err != nil {
				Logger.Error("configure_modem failed", "modem", m.Name, "error", err)
			}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	Logger.Info("shutting down")
	for _, name := range lc.Names() {
		if err := lc.RemoveModem(name); err != nil {
			Logger.Error("remove_modem failed during shutdown", "modem", name, "error", err)
		}
	}
	cancel()
}

func maxOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
