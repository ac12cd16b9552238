// cmd/canflow is the host build of the module firmware: the same core
// loop as the embedded target, wired to file-backed storage, a file
// A/B flash pair and a websocket (or serial) host link.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"canflow-go/bus"
	"canflow-go/drivers/canloop"
	"canflow-go/drivers/flashfile"
	"canflow-go/drivers/kvfile"
	"canflow-go/drivers/ledlog"
	"canflow-go/drivers/linkserial"
	"canflow-go/drivers/linkws"
	"canflow-go/engine"
	"canflow-go/services/controller"
	"canflow-go/services/ota"
	"canflow-go/types"
	"canflow-go/x/conv"
)

type moduleConfig struct {
	ModuleID  string `toml:"module_id"`
	HWVersion string `toml:"hw_version"`
	FWVersion string `toml:"fw_version"`
	Serial    string `toml:"serial"`
	LinkName  string `toml:"link_name"`

	Link struct {
		Kind string `toml:"kind"` // "ws" or "serial"
		Addr string `toml:"addr"`
		Dev  string `toml:"dev"`
		Baud int    `toml:"baud"`
	} `toml:"link"`

	Storage struct {
		Dir string `toml:"dir"`
	} `toml:"storage"`

	Flash struct {
		Dir      string `toml:"dir"`
		SlotSize int64  `toml:"slot_size"`
	} `toml:"flash"`
}

func defaultConfig() moduleConfig {
	var cfg moduleConfig
	cfg.HWVersion = "1.0"
	cfg.FWVersion = "0.3.0"
	cfg.Serial = "CF-DEV"
	cfg.Link.Kind = "ws"
	cfg.Link.Addr = ":8775"
	cfg.Link.Baud = 115200
	cfg.Storage.Dir = "data/kv"
	cfg.Flash.Dir = "data/flash"
	cfg.Flash.SlotSize = 2 << 20
	return cfg
}

func main() {
	var cfgPath string
	var debug bool

	root := &cobra.Command{
		Use:   "canflow",
		Short: "vehicle-bus rule module (host build)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultConfig()
			if cfgPath != "" {
				if _, err := toml.DecodeFile(cfgPath, &cfg); err != nil {
					return err
				}
			}
			return run(cfg, debug)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "module config (toml)")
	root.Flags().BoolVar(&debug, "debug", false, "verbose logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg moduleConfig, debug bool) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	b := bus.New(16)
	conn := b.NewConnection("canflow")

	canDrv := canloop.New()
	store := kvfile.New(cfg.Storage.Dir)
	flash, err := flashfile.New(cfg.Flash.Dir, cfg.Flash.SlotSize)
	if err != nil {
		return err
	}

	var link types.Transport
	switch cfg.Link.Kind {
	case "serial":
		link = linkserial.New(cfg.Link.Dev, cfg.Link.Baud, log)
	default:
		link = linkws.New(cfg.Link.Addr, log)
	}

	eng := engine.New(log, b.NewConnection("engine"))
	otaSvc := ota.New(flash, log, b.NewConnection("ota"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := controller.New(controller.Config{
		ModuleID:  cfg.ModuleID,
		HWVersion: cfg.HWVersion,
		FWVersion: cfg.FWVersion,
		Serial:    cfg.Serial,
		LinkName:  cfg.LinkName,
		Restart: func() {
			log.Info().Msg("update accepted, shutting down for restart")
			cancel()
		},
	}, canDrv, store, link, otaSvc, eng, ledlog.New(log), conn, log)

	registerCapabilities(eng, canDrv, log)

	if err := ctrl.Begin(); err != nil {
		return err
	}

	// Console view of rule activity.
	trigSub := conn.Subscribe(bus.Topic{"engine", "trigger", "+"})
	go func() {
		for msg := range trigSub.Channel() {
			if ev, ok := msg.Payload.(engine.TriggerEvent); ok {
				log.Info().Str("flow", ev.Flow).Int("actions", ev.Actions).Msg("rule fired")
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	ctrl.Run(ctx)
	return nil
}

// registerCapabilities installs the host build's action set. Embedded
// targets register real outputs (relays, indicators) here instead.
func registerCapabilities(eng *engine.Engine, canDrv *canloop.Driver, log zerolog.Logger) {
	eng.RegisterCapabilityMeta("log",
		func(p types.ParamMap) {
			log.Info().Str("message", p["p0"]).Msg("capability: log")
		},
		types.CapabilityMeta{
			Label:       "Log message",
			Description: "Write a line to the module log",
			Category:    "diagnostics",
			Params: []types.CapabilityParamMeta{
				{Name: "message", Type: "string", Required: true, Description: "text to log"},
			},
		})

	eng.RegisterCapabilityMeta("relay_set",
		func(p types.ParamMap) {
			log.Info().Str("channel", p["p0"]).Str("state", p["p1"]).Msg("capability: relay_set")
		},
		types.CapabilityMeta{
			Label:       "Set relay",
			Description: "Drive a relay channel",
			Category:    "outputs",
			Params: []types.CapabilityParamMeta{
				{Name: "channel", Type: "int", Required: true, Min: 0, Max: 7, Description: "relay index"},
				{Name: "state", Type: "bool", Required: true, Description: "on or off"},
			},
		})

	eng.RegisterCapabilityMeta("can_send",
		func(p types.ParamMap) {
			// p0 = can id (decimal), p1..p8 = data bytes; missing bytes are zero.
			var f types.CanFrame
			id, ok := conv.ParseDecU32(p["p0"])
			if !ok {
				return
			}
			f.ID = id
			for i := 0; i < 8; i++ {
				key := "p" + string(rune('1'+i))
				if v, ok := conv.ParseDecU32(p[key]); ok {
					f.Data[i] = byte(v)
					f.DLC = uint8(i + 1)
				}
			}
			_ = canDrv.Transmit(&f)
		},
		types.CapabilityMeta{
			Label:       "Send CAN frame",
			Description: "Transmit a frame on the vehicle bus",
			Category:    "bus",
			Params: []types.CapabilityParamMeta{
				{Name: "can_id", Type: "int", Required: true, Description: "frame id"},
			},
		})
}
