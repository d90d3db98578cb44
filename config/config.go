package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full configuration of the monitor service. It is built once
// at startup and treated as immutable; a hot reload produces a new Config.
type Config struct {
	MQTT       MQTTConfig                 `mapstructure:"mqtt"`
	Device     DeviceConfig               `mapstructure:"device"`
	Thresholds ThresholdConfig            `mapstructure:"thresholds"`
	Alerting   AlertingConfig             `mapstructure:"alerting"`
	Storage    StorageConfig              `mapstructure:"storage"`
	HTTP       HTTPConfig                 `mapstructure:"http"`
	Auth       AuthConfig                 `mapstructure:"auth"`
	Transforms map[string]TransformConfig `mapstructure:"transforms"`
	Logger     LoggerConfig               `mapstructure:"logger"`
}

// MQTTConfig describes the broker connection shared with the device.
type MQTTConfig struct {
	Broker         string `mapstructure:"broker"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
	SensorTopic    string `mapstructure:"sensor_topic"`
	ControlTopic   string `mapstructure:"control_topic"`
}

// DeviceConfig carries the device-side provisioning values from the firmware
// configuration header. The WiFi credentials are handed to the device during
// provisioning and never used by the backend itself.
type DeviceConfig struct {
	WiFiSSID     string    `mapstructure:"wifi_ssid"`
	WiFiPassword string    `mapstructure:"wifi_password"`
	Pins         PinConfig `mapstructure:"pins"`
}

// PinConfig is the GPIO map of the ESP32 board.
type PinConfig struct {
	MQ135      int `mapstructure:"mq135"`
	SDA        int `mapstructure:"sda"`
	SCL        int `mapstructure:"scl"`
	DHT        int `mapstructure:"dht"`
	Mic        int `mapstructure:"mic"`
	RelayFan   int `mapstructure:"relay_fan"`
	RelayLight int `mapstructure:"relay_light"`
	Buzzer     int `mapstructure:"buzzer"`
}

// ThresholdConfig holds the alerting bounds. CO2, temperature, humidity and
// noise alert above the bound; light alerts below it.
type ThresholdConfig struct {
	CO2         float64 `mapstructure:"co2"`
	Lux         float64 `mapstructure:"lux"`
	Temperature float64 `mapstructure:"temperature"`
	Humidity    float64 `mapstructure:"humidity"`
	Noise       float64 `mapstructure:"noise"`
}

// AlertingConfig tunes how threshold violations turn into actuations.
type AlertingConfig struct {
	// DebounceSamples is how many consecutive violating readings are needed
	// before an alert raises.
	DebounceSamples int `mapstructure:"debounce_samples"`
	// HysteresisPct widens the clear bound so relays do not flap around the
	// threshold. Expressed as a percentage of the threshold value.
	HysteresisPct float64 `mapstructure:"hysteresis_pct"`
	// OfflineAfter is how long a device may stay silent before it is
	// reported offline.
	OfflineAfter time.Duration `mapstructure:"offline_after"`
	// AlertHistory is the number of alert transitions kept for the API.
	AlertHistory int `mapstructure:"alert_history"`
}

// TransformConfig configures an optional JavaScript payload normalizer for a
// device-id prefix.
type TransformConfig struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig configures JWT sessions and the static user list.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []UserConfig  `mapstructure:"users"`
}

// UserConfig is one API user. PasswordHash is a bcrypt hash.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// LoggerConfig configures the rotating logger.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// StorageConfig selects the storage backends.
type StorageConfig struct {
	File     FileStorageConfig     `mapstructure:"file"`
	Database DatabaseStorageConfig `mapstructure:"database"`
	InfluxDB InfluxStorageConfig   `mapstructure:"influxdb"`
}

// FileStorageConfig configures the JSON file backend.
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseStorageConfig configures the SQL backend.
type DatabaseStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// InfluxStorageConfig configures the InfluxDB backend.
type InfluxStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// ConfigChangeCallback is invoked with the re-parsed configuration whenever
// the config file changes on disk.
type ConfigChangeCallback func(cfg *Config) error

// setDefaults seeds viper with the values from the device firmware header so
// a minimal config file still yields a working service.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.broker", "broker.hivemq.com")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id_prefix", "ESP32_CLASSGUARD_")
	v.SetDefault("mqtt.sensor_topic", "classguard/sensors")
	v.SetDefault("mqtt.control_topic", "classguard/control")

	v.SetDefault("device.pins.mq135", 34)
	v.SetDefault("device.pins.sda", 21)
	v.SetDefault("device.pins.scl", 22)
	v.SetDefault("device.pins.dht", 4)
	v.SetDefault("device.pins.mic", 35)
	v.SetDefault("device.pins.relay_fan", 26)
	v.SetDefault("device.pins.relay_light", 27)
	v.SetDefault("device.pins.buzzer", 25)

	v.SetDefault("thresholds.co2", 1000)
	v.SetDefault("thresholds.lux", 300)
	v.SetDefault("thresholds.temperature", 35)
	v.SetDefault("thresholds.humidity", 80)
	v.SetDefault("thresholds.noise", 70)

	v.SetDefault("alerting.debounce_samples", 3)
	v.SetDefault("alerting.hysteresis_pct", 5)
	v.SetDefault("alerting.offline_after", 2*time.Minute)
	v.SetDefault("alerting.alert_history", 256)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("storage.file.enabled", true)
	v.SetDefault("storage.file.path", "./data")

	v.SetDefault("logger.level", "INFO")
	v.SetDefault("logger.file_path", "./logs/classguard.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

// LoadConfig loads the configuration file from the given path. A .env file in
// the working directory is loaded first so credentials can be kept out of the
// YAML file.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system environment variables")
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("classguard")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	// Secret keys have no default, so bind them explicitly or the environment
	// overlay never reaches Unmarshal.
	for _, key := range []string{
		"mqtt.username",
		"mqtt.password",
		"auth.jwt_secret",
		"storage.database.dsn",
		"storage.influxdb.token",
	} {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the semantic constraints of the configuration.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address cannot be empty")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt port %d outside valid TCP port range", c.MQTT.Port)
	}
	if c.MQTT.ClientIDPrefix == "" {
		return fmt.Errorf("mqtt client id prefix cannot be empty")
	}
	if c.MQTT.SensorTopic == "" || c.MQTT.ControlTopic == "" {
		return fmt.Errorf("mqtt sensor and control topics cannot be empty")
	}
	if c.MQTT.SensorTopic == c.MQTT.ControlTopic {
		return fmt.Errorf("mqtt sensor and control topics must differ")
	}

	if err := c.Device.Pins.Validate(); err != nil {
		return err
	}

	for name, value := range map[string]float64{
		"co2":         c.Thresholds.CO2,
		"lux":         c.Thresholds.Lux,
		"temperature": c.Thresholds.Temperature,
		"humidity":    c.Thresholds.Humidity,
		"noise":       c.Thresholds.Noise,
	} {
		if value <= 0 {
			return fmt.Errorf("threshold %s must be positive, got %v", name, value)
		}
	}

	if c.Alerting.DebounceSamples < 1 {
		return fmt.Errorf("alerting debounce_samples must be at least 1")
	}
	if c.Alerting.HysteresisPct < 0 || c.Alerting.HysteresisPct >= 100 {
		return fmt.Errorf("alerting hysteresis_pct must be in [0, 100)")
	}

	if c.Storage.Database.Enabled {
		if c.Storage.Database.Type != "mysql" && c.Storage.Database.Type != "postgresql" {
			return fmt.Errorf("unsupported database type: %s", c.Storage.Database.Type)
		}
		if c.Storage.Database.DSN == "" {
			return fmt.Errorf("database storage enabled but dsn is empty")
		}
	}
	if c.Storage.InfluxDB.Enabled && c.Storage.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb storage enabled but url is empty")
	}

	for _, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth users need a username and password_hash")
		}
		if u.Role != "admin" && u.Role != "viewer" {
			return fmt.Errorf("user %s has unknown role %q", u.Username, u.Role)
		}
	}
	if len(c.Auth.Users) > 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth users configured but jwt_secret is empty")
	}

	return nil
}

// Validate checks that the pin map stays inside the ESP32 GPIO range and is
// free of conflicts.
func (p *PinConfig) Validate() error {
	pins := map[string]int{
		"mq135":       p.MQ135,
		"sda":         p.SDA,
		"scl":         p.SCL,
		"dht":         p.DHT,
		"mic":         p.Mic,
		"relay_fan":   p.RelayFan,
		"relay_light": p.RelayLight,
		"buzzer":      p.Buzzer,
	}

	seen := make(map[int]string, len(pins))
	for name, pin := range pins {
		if pin < 0 || pin > 39 {
			return fmt.Errorf("pin %s=%d outside ESP32 GPIO range 0-39", name, pin)
		}
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("pin conflict: %s and %s both assigned to GPIO %d", other, name, pin)
		}
		seen[pin] = name
	}
	return nil
}

// BrokerURL renders the broker address in the form paho expects.
func (m *MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

// WatchConfig watches the configuration file and calls back with each valid
// re-parse. Rapid successive writes are debounced.
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	viper.SetConfigFile(absPath)
	viper.WatchConfig()

	var lastChangeTime time.Time
	var debounceInterval = 2 * time.Second

	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write != fsnotify.Write {
			return
		}
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			return
		}
		lastChangeTime = now

		log.Printf("config file changed: %s", e.Name)

		var newConfig Config
		if err := viper.Unmarshal(&newConfig); err != nil {
			log.Printf("failed to parse updated config: %v", err)
			return
		}
		if err := newConfig.Validate(); err != nil {
			log.Printf("updated config rejected: %v", err)
			return
		}

		if err := callback(&newConfig); err != nil {
			log.Printf("failed to apply new config: %v", err)
			return
		}

		log.Println("config updated and applied")
	})

	return nil
}
