package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"socwatch/internal/support"
)

type Config struct {
	Streams []Stream `json:"streams"`

	Pipeline Pipeline `json:"pipeline"`

	Geo struct {
		ProviderURL    string `json:"provider_url"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`
		CacheSize      int    `json:"cache_size"`
		CacheTTL       Timer  `json:"cache_ttl"`
		GeoLitePath    string `json:"geolite_path"`
		GeoLiteASNPath string `json:"geolite_asn_path"`
		UpdateTimer    Timer  `json:"update_timer"`

		LicenseKey string `json:"-"`
	} `json:"geo"`

	Mail struct {
		Server         string `json:"server"`
		Port           int    `json:"port"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`

		// Credentials only ever come from the environment.
		Username string `json:"-"`
		Password string `json:"-"`
	} `json:"mail"`

	Forward struct {
		RedisChannel string   `json:"redis_channel"`
		NatsURL      string   `json:"nats_url"`
		NatsSubject  string   `json:"nats_subject"`
		KafkaBrokers []string `json:"kafka_brokers"`
		KafkaTopic   string   `json:"kafka_topic"`
	} `json:"forward"`

	API struct {
		CriticalThreshold int `json:"critical_threshold"`
		DefaultLimit      int `json:"default_limit"`
		MaxLimit          int `json:"max_limit"`
	} `json:"api"`
}

// Pipeline holds the alerting settings operators may change at runtime.
type Pipeline struct {
	RiskThreshold  int    `json:"risk_threshold"`
	AlertRecipient string `json:"alert_recipient"`
	PollTimer      Timer  `json:"poll_timer"`
	ModelPath      string `json:"model_path"`
}

type Stream struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const (
	DefaultSettingsPath   = "data/settings.json"
	defaultRiskThreshold  = 85
	defaultRecipient      = "admin@example.com"
	defaultGeoProviderURL = "http://ip-api.com"
	defaultGeoTimeout     = 5
	defaultGeoCacheSize   = 4096
	defaultListLimit      = 20
	defaultMaxListLimit   = 500
)

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex
	// settingsPath is where accepted updates are persisted. Guarded by configMu.
	settingsPath = DefaultSettingsPath

	InProductionMode bool
)

func init() {
	configValue.Store(Defaults())
}

// Defaults returns the embedded configuration with environment overrides applied.
func Defaults() Config {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg
}

// ReadSettings loads path, writing the embedded defaults there first when the
// file does not exist yet.
func ReadSettings(path string) error {
	if path == "" {
		path = DefaultSettingsPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read settings: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("config: create settings dir: %w", err)
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: unmarshal settings: %w", err)
	}

	applyEnvOverrides(&newConfig)

	configMu.Lock()
	settingsPath = path
	configMu.Unlock()

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		return err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

// SetConfig replaces the active configuration, persists it to the settings
// file and shares it with the other instances when Redis sync is enabled.
func SetConfig(newConfig Config) error {
	return applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"})
}

// UpdatePipeline applies update to a copy of the active pipeline settings and
// stores the result through SetConfig.
func UpdatePipeline(update func(p *Pipeline)) (Pipeline, error) {
	if update == nil {
		return Pipeline{}, errors.New("config: pipeline update cannot be nil")
	}

	cfg := GetConfig()
	update(&cfg.Pipeline)
	if cfg.Pipeline.RiskThreshold < 1 {
		return Pipeline{}, fmt.Errorf("config: risk threshold %d is below 1", cfg.Pipeline.RiskThreshold)
	}
	if err := SetConfig(cfg); err != nil {
		return GetConfig().Pipeline, err
	}
	return GetConfig().Pipeline, nil
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	// keepLocalSecrets carries this process's credentials over updates that
	// arrive without them.
	keepLocalSecrets bool
	source           string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	if opts.keepLocalSecrets {
		current := GetConfig()
		newConfig.Mail.Username = current.Mail.Username
		newConfig.Mail.Password = current.Mail.Password
		newConfig.Geo.LicenseKey = current.Geo.LicenseKey
	}

	normalize(&newConfig)
	if err := validate(newConfig); err != nil {
		return err
	}

	configValue.Store(newConfig)

	var errs []error
	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("config: marshal: %w", err))
		} else if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("config: persist: %w", err))
		}
	}

	if opts.broadcast {
		if err := broadcastConfigUpdate(newConfig); err != nil {
			errs = append(errs, fmt.Errorf("config: broadcast: %w", err))
		}
	}

	log.Debug("Configuration applied", "source", opts.source)
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	cfg.Mail.Username = support.GetEnv("MAIL_USERNAME", cfg.Mail.Username)
	cfg.Mail.Password = support.GetEnv("MAIL_PASSWORD", cfg.Mail.Password)
	cfg.Mail.Server = support.GetEnv("MAIL_SERVER", cfg.Mail.Server)
	cfg.Mail.Port = support.GetEnvInt("MAIL_PORT", cfg.Mail.Port)

	cfg.Pipeline.RiskThreshold = support.GetEnvInt("RISK_THRESHOLD", cfg.Pipeline.RiskThreshold)
	cfg.Pipeline.AlertRecipient = support.GetEnv("ALERT_RECIPIENT", cfg.Pipeline.AlertRecipient)
	cfg.Pipeline.ModelPath = support.GetEnv("MODEL_PATH", cfg.Pipeline.ModelPath)
	cfg.Geo.GeoLitePath = support.GetEnv("GEOLITE_PATH", cfg.Geo.GeoLitePath)
	cfg.Geo.GeoLiteASNPath = support.GetEnv("GEOLITE_ASN_PATH", cfg.Geo.GeoLiteASNPath)
	cfg.Geo.LicenseKey = support.GetEnv("MAXMIND_LICENSE_KEY", cfg.Geo.LicenseKey)

	cfg.Forward.NatsURL = support.GetEnv("NATS_URL", cfg.Forward.NatsURL)
	if brokers := support.SplitList(support.GetEnv("KAFKA_BROKERS", "")); len(brokers) > 0 {
		cfg.Forward.KafkaBrokers = brokers
	}
}

func normalize(cfg *Config) {
	if cfg.Pipeline.RiskThreshold <= 0 {
		cfg.Pipeline.RiskThreshold = defaultRiskThreshold
	}
	if strings.TrimSpace(cfg.Pipeline.AlertRecipient) == "" {
		cfg.Pipeline.AlertRecipient = defaultRecipient
	}
	if strings.TrimSpace(cfg.Geo.ProviderURL) == "" {
		cfg.Geo.ProviderURL = defaultGeoProviderURL
	}
	if cfg.Geo.TimeoutSeconds == 0 {
		cfg.Geo.TimeoutSeconds = defaultGeoTimeout
	}
	if cfg.Geo.CacheSize <= 0 {
		cfg.Geo.CacheSize = defaultGeoCacheSize
	}
	if cfg.API.CriticalThreshold <= 0 {
		cfg.API.CriticalThreshold = defaultRiskThreshold
	}
	if cfg.API.DefaultLimit <= 0 {
		cfg.API.DefaultLimit = defaultListLimit
	}
	if cfg.API.MaxLimit < cfg.API.DefaultLimit {
		cfg.API.MaxLimit = defaultMaxListLimit
	}
}

func validate(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Streams))
	for _, stream := range cfg.Streams {
		if strings.TrimSpace(stream.Name) == "" || strings.TrimSpace(stream.Path) == "" {
			return fmt.Errorf("config: stream entries need a name and a path")
		}
		if _, dup := seen[stream.Name]; dup {
			return fmt.Errorf("config: duplicate stream %q", stream.Name)
		}
		seen[stream.Name] = struct{}{}
	}
	if cfg.Pipeline.RiskThreshold > 100 {
		return fmt.Errorf("config: risk threshold %d exceeds 100", cfg.Pipeline.RiskThreshold)
	}
	return nil
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

// Shared exposes the process-wide pipeline settings to the read API.
type Shared struct{}

func (Shared) Pipeline() Pipeline {
	return GetConfig().Pipeline
}

func (Shared) UpdatePipeline(update func(p *Pipeline)) (Pipeline, error) {
	return UpdatePipeline(update)
}
