package pyroxy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML duration
// string such as "60m" or "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// ServerConfig is the file-based configuration of the pyroxy binary.
// Zero values mean "use the default".
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
	// Provider selects the cache backend: "memory" or "sqlite".
	Provider string `yaml:"provider"`
	// DBFile is the sqlite database file, in-memory when empty.
	DBFile              string   `yaml:"dbFile"`
	DefaultCacheTime    Duration `yaml:"defaultCacheTime"`
	MinCacheTime        Duration `yaml:"minCacheTime"`
	UpstreamTimeout     Duration `yaml:"upstreamTimeout"`
	MaxIdleConnsPerHost int      `yaml:"maxIdleConnsPerHost"`
}

// LoadServerConfig reads and validates the YAML config file.
func LoadServerConfig(filename string) (ServerConfig, error) {
	var config ServerConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, err
	}
	if config.Provider != "" && config.Provider != "memory" && config.Provider != "sqlite" {
		return config, fmt.Errorf("unsupported cache provider %q", config.Provider)
	}
	return config, nil
}
