package balancer

import (
	"os"
	"path/filepath"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

var exitFn = os.Exit

// checkConfigChanges reparses the config each time the config file is written. If the tank
// controller section changed the process exits so systemd restarts it with the new config.
// conf must be the config as read from the file, before any secrets are applied.
func checkConfigChanges(conf *Config, configDir string) error {
	configFilePath := filepath.Join(configDir, goconfig.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for {
		<-fsEvents
		if reloadConfig(conf, configDir) {
			return nil
		}
	}
}

// reloadConfig exits the process if the config file no longer matches conf.
func reloadConfig(conf *Config, configDir string) bool {
	if !configChanged(conf, configDir) {
		log.Info("No relevant changes detected in config file.")
		return false
	}
	log.Info("Config changed. Exiting to allow systemctl to restart service.")
	exitFn(0)
	return true
}

func configChanged(conf *Config, configDir string) bool {
	newConfig, err := ParseConfig(configDir)
	if err != nil {
		log.Error("error reloading config:", err)
		return false
	}
	diff := cmp.Diff(conf, newConfig)
	log.Debug("Config diff:", diff)
	return diff != ""
}
