package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Defaults match the constants the device firmware and the original panel
// were built against.
const (
	DefaultSerialPortName = "/dev/ttyACM0"
	DefaultBaudRate       = 9600
	DefaultListenAddress  = "0.0.0.0"
	DefaultNetworkPort    = 3000
	DefaultLogLevel       = "INFO"
	DefaultCommandTimeout = 3 * time.Second
	DefaultResetDelay     = 2 * time.Second
	DefaultMQTTTopic      = "climate/reading"
	DefaultMQTTClientID   = "climate-bridge"

	appDirName = "ClimateBridge"
	envPrefix  = "CLIMATE_BRIDGE"
)

// Config stores the bridge settings.
type Config struct {
	SerialPortName     string        `mapstructure:"serialPortName" json:"serialPortName"`
	BaudRate           int           `mapstructure:"baudRate" json:"baudRate"`
	ListenAddress      string        `mapstructure:"listenAddress" json:"listenAddress"`
	NetworkPort        int           `mapstructure:"networkPort" json:"networkPort"`
	LogLevel           string        `mapstructure:"logLevel" json:"logLevel"`
	CommandTimeout     time.Duration `mapstructure:"commandTimeout" json:"commandTimeout"`
	ResetDelay         time.Duration `mapstructure:"resetDelay" json:"resetDelay"`
	MetricsEnabled     bool          `mapstructure:"metricsEnabled" json:"metricsEnabled"`
	MQTTBroker         string        `mapstructure:"mqttBroker" json:"mqttBroker"`         // Empty disables the republisher
	MQTTTopic          string        `mapstructure:"mqttTopic" json:"mqttTopic"`
	MQTTClientID       string        `mapstructure:"mqttClientID" json:"mqttClientID"`
	SingleCharCommands bool          `mapstructure:"singleCharCommands" json:"singleCharCommands"` // Reject multi-character command segments
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.NetworkPort)
}

// Validate checks the values that cannot be defaulted away.
func (c *Config) Validate() error {
	var errs []error
	if c.SerialPortName == "" {
		errs = append(errs, errors.New("serialPortName must not be empty"))
	}
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid baudRate %d", c.BaudRate))
	}
	if c.NetworkPort <= 0 || c.NetworkPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid networkPort %d", c.NetworkPort))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid commandTimeout %s", c.CommandTimeout))
	}
	if c.ResetDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid resetDelay %s", c.ResetDelay))
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, errors.New("mqttTopic must be set when mqttBroker is configured"))
	}
	return errors.Join(errs...)
}

var (
	mu         sync.RWMutex
	current    *Config
	configFile string
	v          *viper.Viper
)

// AppDir returns the per-user application directory holding the config
// file and the session log.
func AppDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(configDir, appDirName), nil
}

// DefaultPath returns the location of the config file in the user config dir.
func DefaultPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bridge_config.json"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serialPortName", DefaultSerialPortName)
	v.SetDefault("baudRate", DefaultBaudRate)
	v.SetDefault("listenAddress", DefaultListenAddress)
	v.SetDefault("networkPort", DefaultNetworkPort)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("commandTimeout", DefaultCommandTimeout.String())
	v.SetDefault("resetDelay", DefaultResetDelay.String())
	v.SetDefault("metricsEnabled", true)
	v.SetDefault("mqttBroker", "")
	v.SetDefault("mqttTopic", DefaultMQTTTopic)
	v.SetDefault("mqttClientID", DefaultMQTTClientID)
	v.SetDefault("singleCharCommands", false)
}

// Load reads the JSON config file at path into the singleton instance.
// If the file doesn't exist it is created with the default settings.
// Environment variables prefixed with CLIMATE_BRIDGE_ override file values.
func Load(path string) error {
	nv := viper.New()
	setDefaults(nv)
	nv.SetConfigFile(path)
	nv.SetConfigType("json")
	nv.SetEnvPrefix(envPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	if err := nv.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) && !errors.As(err, new(viper.ConfigFileNotFoundError)) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Info("Config file '%s' not found. Using default settings.", path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("could not create config directory: %w", err)
		}
		if err := writeDefaults(path); err != nil {
			logger.Warn("Failed to save default config to '%s': %v", path, err)
		}
	}

	conf, err := decode(nv)
	if err != nil {
		return err
	}

	mu.Lock()
	current = conf
	configFile = path
	v = nv
	mu.Unlock()

	logger.SetLevelFromString(conf.LogLevel)
	logger.Info("Loaded config from '%s'", path)
	return nil
}

// writeDefaults saves the built-in settings with the documented camelCase
// keys. viper.WriteConfigAs would lowercase them.
func writeDefaults(path string) error {
	d := Defaults()
	settings := map[string]interface{}{
		"serialPortName":     d.SerialPortName,
		"baudRate":           d.BaudRate,
		"listenAddress":      d.ListenAddress,
		"networkPort":        d.NetworkPort,
		"logLevel":           d.LogLevel,
		"commandTimeout":     d.CommandTimeout.String(),
		"resetDelay":         d.ResetDelay.String(),
		"metricsEnabled":     d.MetricsEnabled,
		"mqttBroker":         d.MQTTBroker,
		"mqttTopic":          d.MQTTTopic,
		"mqttClientID":       d.MQTTClientID,
		"singleCharCommands": d.SingleCharCommands,
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func decode(nv *viper.Viper) (*Config, error) {
	var conf Config
	if err := nv.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if conf.LogLevel == "" {
		logger.Warn("Configuration key 'logLevel' is empty, using default '%s'.", DefaultLogLevel)
		conf.LogLevel = DefaultLogLevel
	}
	if conf.ListenAddress == "" {
		logger.Warn("Configuration key 'listenAddress' is empty, using default '%s'.", DefaultListenAddress)
		conf.ListenAddress = DefaultListenAddress
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &conf, nil
}

// Watch reloads the config when the file changes. Only the log level takes
// effect at runtime; serial and listener settings need a restart.
func Watch(onChange func(*Config)) {
	mu.RLock()
	nv := v
	mu.RUnlock()
	if nv == nil {
		return
	}

	nv.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed: %s", e.Name)
		conf, err := decode(nv)
		if err != nil {
			logger.Warn("Ignoring config change: %v", err)
			return
		}
		mu.Lock()
		current = conf
		mu.Unlock()
		logger.SetLevelFromString(conf.LogLevel)
		if onChange != nil {
			onChange(conf)
		}
	})
	nv.WatchConfig()
}

// Get returns a copy of the loaded config. If Load was never called the
// defaults are returned.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Defaults()
	}
	return *current
}

// File returns the path of the loaded config file.
func File() string {
	mu.RLock()
	defer mu.RUnlock()
	return configFile
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		SerialPortName: DefaultSerialPortName,
		BaudRate:       DefaultBaudRate,
		ListenAddress:  DefaultListenAddress,
		NetworkPort:    DefaultNetworkPort,
		LogLevel:       DefaultLogLevel,
		CommandTimeout: DefaultCommandTimeout,
		ResetDelay:     DefaultResetDelay,
		MetricsEnabled: true,
		MQTTTopic:      DefaultMQTTTopic,
		MQTTClientID:   DefaultMQTTClientID,
	}
}
