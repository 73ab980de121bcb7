// Package config loads tool configuration. Everything has a working default;
// the HSM engine settings come from the environment (CRYPTOOL_* variables) or
// an optional config file, never from process-global state.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Engine struct {
		// Module is the path to the PKCS#11 engine shared object.
		Module string `mapstructure:"module"`
		// Token is the path to the HSM vendor module shared object.
		Token string `mapstructure:"token"`
		// ConnectorPort is the loopback port of the local connector service.
		ConnectorPort int `mapstructure:"connector_port"`
	} `mapstructure:"engine"`

	Generate struct {
		// Bits is the default RSA modulus size for new keys.
		Bits int `mapstructure:"bits"`
	} `mapstructure:"generate"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("engine.module", "")
	v.SetDefault("engine.token", "")
	v.SetDefault("engine.connector_port", 6789)
	v.SetDefault("generate.bits", 4096)

	v.SetConfigName("cryptool")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/cryptool")
	v.AddConfigPath("/etc/cryptool")

	v.SetEnvPrefix("CRYPTOOL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional; only a malformed one is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
