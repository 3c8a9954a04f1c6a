package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/devrelay/devrelay/lib/util"
	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetDevRelayLogger()
)

const (
	DEVRELAY_BASE_DIR = ".devrelay"
	envPrefix         = "DEVRELAY"
)

// InitConfig wires viper to the environment and the config file, creating
// the default file when none exists.
func InitConfig() error {
	if CfgFile != "" {
		if !util.CheckFileExists(CfgFile) {
			return oops.Errorf("config file %s not found", CfgFile)
		}
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDevRelayDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	configureEnv()

	return handleConfigFile()
}

func configureEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault(KeyListenAddr, d.Server.ListenAddr)
	viper.SetDefault(KeyWSPath, d.Server.WSPath)
	viper.SetDefault(KeyAllowedOrigins, d.Server.AllowedOrigins)
	viper.SetDefault(KeyShutdownTimeout, d.Server.ShutdownTimeout)

	viper.SetDefault(KeySendBuffer, d.Relay.SendBuffer)
	viper.SetDefault(KeyMaxFrameBytes, d.Relay.MaxFrameBytes)
	viper.SetDefault(KeyRateLimit, d.Relay.RateLimit)
	viper.SetDefault(KeyRateBurst, d.Relay.RateBurst)
	viper.SetDefault(KeyWriteWait, d.Relay.WriteWait)

	viper.SetDefault(KeyStorageDriver, d.Storage.Driver)
	viper.SetDefault(KeyStorageDSN, d.Storage.DSN)
	viper.SetDefault(KeySeedFile, d.Storage.SeedFile)

	viper.SetDefault(KeyLogLevel, d.Log.Level)
}

// NewConfigFromViper builds a Config from the current viper settings.
func NewConfigFromViper() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      viper.GetString(KeyListenAddr),
			WSPath:          viper.GetString(KeyWSPath),
			AllowedOrigins:  viper.GetStringSlice(KeyAllowedOrigins),
			ShutdownTimeout: viper.GetDuration(KeyShutdownTimeout),
		},
		Relay: RelayConfig{
			SendBuffer:    viper.GetInt(KeySendBuffer),
			MaxFrameBytes: viper.GetInt64(KeyMaxFrameBytes),
			RateLimit:     viper.GetFloat64(KeyRateLimit),
			RateBurst:     viper.GetInt(KeyRateBurst),
			WriteWait:     viper.GetDuration(KeyWriteWait),
		},
		Storage: StorageConfig{
			Driver:   viper.GetString(KeyStorageDriver),
			DSN:      viper.GetString(KeyStorageDSN),
			SeedFile: viper.GetString(KeySeedFile),
		},
		Log: LogConfig{
			Level: viper.GetString(KeyLogLevel),
		},
	}
}

// Reload re-reads the config file. Settings that were bound at startup,
// such as the listen address, keep their old effect until restart.
func Reload() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, oops.Wrapf(err, "reload config")
	}
	log.WithFields(logger.Fields{
		"at":   "config.Reload",
		"file": viper.ConfigFileUsed(),
	}).Info("config_reloaded")
	return NewConfigFromViper(), nil
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		return oops.Wrapf(err, "create config directory %s", defaultConfigDir)
	}
	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "write default config %s", defaultConfigFile)
	}
	viper.SetConfigFile(defaultConfigFile)

	log.WithField("file", defaultConfigFile).Debug("default_config_created")
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("config_file_loaded")
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return oops.Wrapf(err, "read config file")
	}
	if CfgFile != "" {
		return oops.Wrapf(err, "config file %s not found", CfgFile)
	}
	return createDefaultConfig(BuildDevRelayDirPath())
}

func BuildDevRelayDirPath() string {
	return filepath.Join(util.UserHome(), DEVRELAY_BASE_DIR)
}
