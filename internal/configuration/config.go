package configuration

import (
	"encoding/json"
	"os"
	"time"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	CallsCollection         string `json:"callsCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
}

type ServerConfig struct {
	AppPort     int    `json:"app_port"`
	SocketPort  int    `json:"socket_port"`
	SocketRoute string `json:"socket_route"`
}

type GrantConfig struct {
	Secret     string `json:"secret"`
	TTLMinutes int    `json:"ttl_minutes"`
}

type Config struct {
	Database MongoConfig  `json:"mongo"`
	Server   ServerConfig `json:"server"`
	Grant    GrantConfig  `json:"grant"`
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.CallsCollection == "" {
		c.Database.CallsCollection = "calls"
	}
	if c.Database.ConversationsCollection == "" {
		c.Database.ConversationsCollection = "conversations"
	}
	if c.Server.SocketRoute == "" {
		c.Server.SocketRoute = "/ws"
	}
	if c.Grant.TTLMinutes <= 0 {
		c.Grant.TTLMinutes = 240
	}
}

// GrantTTL returns the grant lifetime as a duration.
func (c *Config) GrantTTL() time.Duration {
	return time.Duration(c.Grant.TTLMinutes) * time.Minute
}
