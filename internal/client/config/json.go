package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/envvault/internal/flagx"
	"github.com/dmitrijs2005/envvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent fields
// leave the corresponding Config value untouched.
type JsonConfig struct {
	Mode               string         `json:"mode"`
	DataDir            string         `json:"data_dir"`
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	AutoLock           timex.Duration `json:"auto_lock"`
	BcryptCost         int            `json:"bcrypt_cost"`
}

// parseJson overlays cfg with the JSON file named by -c/-config, if any.
// It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.Mode != "" {
		cfg.Mode = jc.Mode
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.AutoLock.Duration != 0 {
		cfg.AutoLock = jc.AutoLock.Duration
	}
	if jc.BcryptCost != 0 {
		cfg.BcryptCost = jc.BcryptCost
	}
}
