package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Structs

// Env holds information specific to the system where a loom peer
// is deployed. This enables host adaptions without needing to
// maintain two different config files. Use the .env file to
// populate secrets within the system.
type Env struct {
	PostgresPassword string
	RedisPassword    string
}

// Functions

// LoadEnv looks for an .env file at the supplied location and
// reads in all defined values.
func LoadEnv(envFile string) (*Env, error) {

	// Load environment file.
	err := godotenv.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read in .env file with: %v", err)
	}

	env := new(Env)

	// Fill variables from .env into struct.
	env.PostgresPassword = os.Getenv("LOOM_POSTGRES_PASSWORD")
	env.RedisPassword = os.Getenv("LOOM_REDIS_PASSWORD")

	return env, nil
}
