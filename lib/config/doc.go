// Package config loads devrelay settings through viper.
//
// Values are resolved in the usual viper order: flags bound by the caller,
// DEVRELAY_* environment variables (dots become underscores, so
// server.listen_addr is DEVRELAY_SERVER_LISTEN_ADDR), the YAML config file,
// then the defaults from Defaults. Without --config the file lives at
// $HOME/.devrelay/config.yaml and is created with the defaults on first run.
package config
