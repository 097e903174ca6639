// Package config loads and validates the deployment configuration
// of one loom peer from its TOML config file and its environment.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	uuid "github.com/satori/go.uuid"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Name           string
	DocumentID     string
	ListenSyncAddr string
	ListenEditAddr string
	PrometheusAddr string
	SyncIntervalMS int
	StoreAdapter   string
	StoreBolt      *StoreBolt
	StorePostgres  *StorePostgres
	Redis          *Redis
	Peers          map[string]string
}

// StoreBolt configures the local bbolt-backed
// operation log store.
type StoreBolt struct {
	File string
}

// StorePostgres defines parameters for connecting to a
// PostgreSQL database holding the shared operation log.
// The password is supplied via the .env file.
type StorePostgres struct {
	Host     string
	Port     uint16
	Database string
	User     string
	UseTLS   bool
}

// Redis configures the optional pub/sub fan-out of
// operations through a shared redis broker. The password
// is supplied via the .env file.
type Redis struct {
	Addr string
}

// Functions

// LoadConfig takes in the path to the main config file of a loom
// peer in TOML syntax and places the values from the file in the
// corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", configFile, err)
	}

	// A peer without a configured name receives a generated one.
	// Deployments that care about reconnect continuity should pin
	// the name: the actor id has to stay stable across restarts.
	if conf.Name == "" {
		conf.Name = uuid.NewV4().String()
	}

	if conf.DocumentID == "" {
		return nil, fmt.Errorf("config misses a document id to replicate")
	}

	switch conf.StoreAdapter {

	case "StoreBolt":
		if conf.StoreBolt == nil || conf.StoreBolt.File == "" {
			return nil, fmt.Errorf("store adapter StoreBolt requires a configured file location")
		}

	case "StorePostgres":
		if conf.StorePostgres == nil {
			return nil, fmt.Errorf("store adapter StorePostgres requires a configured connection block")
		}

	case "StoreMemory":
		// Ephemeral replica, nothing to validate.

	default:
		return nil, fmt.Errorf("unknown store adapter '%s' specified in config", conf.StoreAdapter)
	}

	// Default the anti-entropy interval to 30 seconds.
	if conf.SyncIntervalMS <= 0 {
		conf.SyncIntervalMS = 30000
	}

	return conf, nil
}
