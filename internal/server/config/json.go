package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/envvault/internal/flagx"
	"github.com/dmitrijs2005/envvault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Absent fields leave the corresponding Config value untouched.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	ServerSecret                string         `json:"server_secret"`
	BcryptCost                  int            `json:"bcrypt_cost"`
}

// parseJson loads configuration values from the JSON file named by -c or
// -config, if any. It panics when the file cannot be read or parsed.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.AccessTokenValidityDuration.Duration != 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.ServerSecret != "" {
		config.ServerSecret = c.ServerSecret
	}
	if c.BcryptCost != 0 {
		config.BcryptCost = c.BcryptCost
	}
}
