// Command triacd is the control daemon for the OpenIndoor Opto-TRIAC
// board. It tracks the AC mains zero crossing from the board's
// optocoupler feedback and phase-fires up to four TRIAC channels.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/openindoor/triacd/board"
	"github.com/openindoor/triacd/config"
	"github.com/openindoor/triacd/hat"
	"github.com/openindoor/triacd/ipc"
	"github.com/openindoor/triacd/rt"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "triacd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.StringP("config", "C", "", "configuration file")
	socket := flag.String("socket", "", "control socket path")
	serialDev := flag.String("serial", "", "serial control line (\"auto\" probes USB adapters)")
	verbose := flag.BoolP("verbose", "v", false, "debug logging")
	flag.Parse()

	log.SetPrefix("triacd")
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		return err
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if *serialDev != "" {
		cfg.Serial = *serialDev
	}

	if err := rt.LockMemory(); err != nil {
		log.Warn("running without locked memory", "err", err)
	}

	b, err := board.Open(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	srv, err := ipc.Listen(cfg.Socket, b)
	if err != nil {
		return err
	}
	defer srv.Close()
	log.Info("control socket ready", "path", cfg.Socket)

	if cfg.Serial != "" {
		dev := cfg.Serial
		if dev == "auto" {
			dev = ""
		}
		if err := srv.ListenSerial(dev); err != nil {
			log.Warn("serial control line unavailable", "err", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("stopping")
	return nil
}

// resolveConfig picks the pin map: explicit file, else the HAT
// descriptor, else the stock board defaults.
func resolveConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if desc, err := hat.Read(); err == nil {
		cfg, err := config.FromHAT(desc)
		if err == nil {
			log.Info("HAT descriptor found",
				"vendor", desc.Vendor, "product", desc.Product)
			return cfg, nil
		}
		log.Warn("ignoring HAT descriptor", "err", err)
	}
	log.Info("no HAT descriptor, using defaults")
	return config.Default(), nil
}
