package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/dnstrail/dnstrail/eventsource"
	"github.com/dnstrail/dnstrail/store"
)

type Agent struct {
	CollectorAddr string        `envconfig:"COLLECTOR_ADDR" yaml:"collectorAddr"`
	ReadInterval  time.Duration `envconfig:"READ_INTERVAL" yaml:"readInterval"`
	TickQueueSize int           `envconfig:"TICK_QUEUE_SIZE" yaml:"tickQueueSize"`
	DialTimeout   time.Duration `envconfig:"DIAL_TIMEOUT" yaml:"dialTimeout"`
	WriteTimeout  time.Duration `envconfig:"WRITE_TIMEOUT" yaml:"writeTimeout"`

	// SourceAddress replaces the resolved local address list.
	SourceAddress          string        `envconfig:"SOURCE_ADDRESS" yaml:"sourceAddress"`
	AddressRefreshInterval time.Duration `envconfig:"ADDRESS_REFRESH_INTERVAL" yaml:"addressRefreshInterval"`

	Source eventsource.Config `envconfig:"SOURCE" yaml:"source"`
}

type Collector struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" yaml:"listenAddr"`
	ReadBufferSize int           `envconfig:"READ_BUFFER_SIZE" yaml:"readBufferSize"`
	Workers        int           `envconfig:"WORKERS" yaml:"workers"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" yaml:"readTimeout"`

	Store store.Config `envconfig:"STORE" yaml:"store"`
	API   API          `envconfig:"API" yaml:"api"`
}

type API struct {
	Timezone string `envconfig:"TIMEZONE" yaml:"timezone"`
}

func (a API) Location() (*time.Location, error) {
	return time.LoadLocation(a.Timezone)
}

func LoadAgent(configPath string) (Agent, error) {
	var cfg Agent
	if err := load(configPath, &cfg); err != nil {
		return Agent{}, err
	}

	if cfg.CollectorAddr == "" {
		cfg.CollectorAddr = "127.0.0.1:5003"
	}
	if cfg.ReadInterval == 0 {
		cfg.ReadInterval = time.Minute
	}
	if cfg.TickQueueSize == 0 {
		cfg.TickQueueSize = 16
	}
	if cfg.AddressRefreshInterval == 0 {
		cfg.AddressRefreshInterval = 10 * time.Minute
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = eventsource.KindSysmon
	}

	return cfg, nil
}

func LoadCollector(configPath string) (Collector, error) {
	var cfg Collector
	if err := load(configPath, &cfg); err != nil {
		return Collector{}, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":5003"
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = store.TypeMongo
	}
	if cfg.API.Timezone == "" {
		cfg.API.Timezone = "UTC"
	}
	if _, err := cfg.API.Location(); err != nil {
		return Collector{}, fmt.Errorf("invalid api timezone: %w", err)
	}

	return cfg, nil
}

func load(configPath string, cfg interface{}) error {
	// Load config from yaml file if specified.
	if configPath != "" {
		configBytes, err := os.ReadFile(configPath)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(configBytes, cfg); err != nil {
			return err
		}
	}
	// Override with env variables (if any).
	return envconfig.Process("", cfg)
}
