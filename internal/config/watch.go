package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/breeze-rmm/offscreen/internal/logging"
)

var log = logging.L("config")

// Watch re-reads the config file whenever it changes on disk and hands the
// validated result to onChange. Configs with fatal problems are skipped.
// Returns immediately; the watch lives for the rest of the process.
func Watch(cfgFile string, onChange func(*Config)) error {
	v, err := newViper(cfgFile)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		log.Debug("no config file in use, skipping watch")
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		// WatchConfig drops read errors and keeps the previous values.
		if err := v.ReadInConfig(); err != nil {
			log.Warn("config reload failed", "file", e.Name, logging.KeyError, err)
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn("config reload failed", "file", e.Name, logging.KeyError, err)
			return
		}
		if res := cfg.ValidateTiered(); res.HasFatals() {
			log.Warn("config reload rejected", "file", e.Name, "errors", res.Fatals)
			return
		}
		log.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
