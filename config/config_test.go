package config_test

import (
	"testing"

	"github.com/go-loom/loom/config"
)

// Functions

// TestLoadConfig executes a black-box test on the
// implemented functionalities to load a TOML config file.
func TestLoadConfig(t *testing.T) {

	// Try to load a broken config file. This should fail.
	_, err := config.LoadConfig("broken-config.toml")
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading broken-config.toml but received 'nil' error.")
	}

	// Now load a valid config.
	conf, err := config.LoadConfig("config.toml")
	if err != nil {
		t.Fatalf("[config.TestLoadConfig] Expected success while loading config.toml but received: '%s'\n", err.Error())
	}

	// Check for test success.
	if conf.Name != "peer-1" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "peer-1", conf.Name)
	}

	if conf.DocumentID != "design-meeting-notes" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "design-meeting-notes", conf.DocumentID)
	}

	if conf.StoreBolt.File != "/very/complicated/test/directory/oplog.db" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "/very/complicated/test/directory/oplog.db", conf.StoreBolt.File)
	}

	if conf.Peers["peer-2"] != "ws://127.0.0.1:4002/sync" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "ws://127.0.0.1:4002/sync", conf.Peers["peer-2"])
	}

	// The anti-entropy interval defaults when left out.
	if conf.SyncIntervalMS != 30000 {
		t.Fatalf("[config.TestLoadConfig] Expected default sync interval '30000' but received '%d'\n", conf.SyncIntervalMS)
	}
}

// TestLoadConfigGeneratedName checks that a peer without a pinned
// name receives a generated one.
func TestLoadConfigGeneratedName(t *testing.T) {

	conf, err := config.LoadConfig("unnamed-config.toml")
	if err != nil {
		t.Fatalf("[config.TestLoadConfigGeneratedName] Expected success while loading unnamed-config.toml but received: '%s'\n", err.Error())
	}

	if conf.Name == "" {
		t.Fatal("[config.TestLoadConfigGeneratedName] Expected generated peer name but received empty string.")
	}
}
