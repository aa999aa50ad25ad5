package config

import (
	"reflect"
	"strings"
)

// ChangedSections returns the top-level sections that differ between two
// configs, in a stable order. Only names are returned so task headers and
// bodies never reach the log.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if strings.TrimSpace(oldCfg.Schedule) != strings.TrimSpace(newCfg.Schedule) {
		changed = append(changed, "schedule")
	}
	if !reflect.DeepEqual(oldCfg.Status, newCfg.Status) {
		changed = append(changed, "status")
	}
	if oldCfg.Output != newCfg.Output {
		changed = append(changed, "output")
	}
	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, "tasks")
	}
	return changed
}

// NeedsRestart reports whether a change touches the storage backend or the
// status server, which a running daemon only sets up at startup.
func NeedsRestart(oldCfg, newCfg *Config) bool {
	for _, s := range ChangedSections(oldCfg, newCfg) {
		if s == "storage" || s == "status" {
			return true
		}
	}
	return false
}
