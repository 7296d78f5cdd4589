package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string             `json:"log_level" yaml:"log_level"`
	LogFormat     string             `json:"log_format" yaml:"log_format"`
	Timezone      string             `json:"timezone" yaml:"timezone"`
	Ingest        IngestConfig       `json:"ingest" yaml:"ingest"`
	Storage       StorageConfig      `json:"storage" yaml:"storage"`
	Retention     RetentionConfig    `json:"retention" yaml:"retention"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
	API           APIConfig          `json:"api" yaml:"api"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Browser       BrowserConfig  `json:"browser" yaml:"browser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

// BrowserConfig drives a Chrome instance over CDP and captures the
// watched pages' background responses directly.
type BrowserConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	RemoteURL string   `json:"remote_url" yaml:"remote_url"`
	Headless  bool     `json:"headless" yaml:"headless"`
	Stealth   bool     `json:"stealth" yaml:"stealth"`
	Pages     []string `json:"pages" yaml:"pages"`
}

type StorageConfig struct {
	Driver    string `json:"driver" yaml:"driver"`
	DSN       string `json:"dsn" yaml:"dsn"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

type RetentionConfig struct {
	HorizonDays int           `json:"horizon_days" yaml:"horizon_days"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
}

type NotificationConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Desktop        bool          `json:"desktop" yaml:"desktop"`
	PlaySound      bool          `json:"play_sound" yaml:"play_sound"`
	Persistent     bool          `json:"persistent" yaml:"persistent"`
	SoundFrequency float64       `json:"sound_frequency" yaml:"sound_frequency"`
	SoundDuration  int           `json:"sound_duration" yaml:"sound_duration"`
	Delay          time.Duration `json:"delay" yaml:"delay"`
	RatePerSecond  float64       `json:"rate_per_second" yaml:"rate_per_second"`
	Burst          int           `json:"burst" yaml:"burst"`
	WebhookURL     string        `json:"webhook_url" yaml:"webhook_url"`
	HistoryLimit   int           `json:"history_limit" yaml:"history_limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "Local",
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			REST:          RESTConfig{Enabled: true, Addr: "127.0.0.1:8787"},
			Kafka:         KafkaConfig{Enabled: false},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Browser:       BrowserConfig{Enabled: false, Headless: true, Stealth: true},
		},
		Storage:   StorageConfig{Driver: "sqlite", DSN: "file:vlwatch.db?_pragma=busy_timeout(5000)", KeyPrefix: "vlwatch:"},
		Retention: RetentionConfig{HorizonDays: 2, Interval: 60 * time.Minute},
		Notifications: NotificationConfig{
			Enabled:        true,
			Desktop:        true,
			PlaySound:      false,
			Persistent:     false,
			SoundFrequency: 800,
			SoundDuration:  150,
			Delay:          200 * time.Millisecond,
			RatePerSecond:  5,
			Burst:          10,
			HistoryLimit:   500,
		},
		API: APIConfig{Enabled: true, Addr: "127.0.0.1:8788"},
	}
}

// Location resolves Timezone; day boundaries for the seen-sets are local
// calendar days in this location.
func (c *Config) Location() *time.Location {
	switch c.Timezone {
	case "", "Local", "local":
		return time.Local
	}
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Retention.HorizonDays <= 0 {
		cfg.Retention.HorizonDays = 2
	}
	if cfg.Retention.Interval <= 0 {
		cfg.Retention.Interval = 60 * time.Minute
	}
	if cfg.Notifications.SoundFrequency <= 0 {
		cfg.Notifications.SoundFrequency = 800
	}
	if cfg.Notifications.SoundDuration <= 0 {
		cfg.Notifications.SoundDuration = 150
	}
	if cfg.Notifications.Delay < 0 {
		cfg.Notifications.Delay = 0
	}
	if cfg.Notifications.RatePerSecond <= 0 {
		cfg.Notifications.RatePerSecond = 5
	}
	if cfg.Notifications.Burst <= 0 {
		cfg.Notifications.Burst = 10
	}
	if cfg.Notifications.HistoryLimit <= 0 {
		cfg.Notifications.HistoryLimit = 500
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Browser.Enabled && len(cfg.Ingest.Browser.Pages) == 0 {
		return errors.New("ingest.browser.pages required when ingest.browser.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "memory", "sqlite", "postgres", "postgresql", "redis":
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	switch cfg.Timezone {
	case "", "Local", "local":
	default:
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if cfg.Notifications.SoundFrequency > 20000 {
		return errors.New("notifications.sound_frequency must be <= 20000")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Int64 // UnixNano of the last loaded or written file
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.markLoaded()
	return m, nil
}

// NewStaticManager serves cfg without a backing file. Updates are kept in
// memory only and Watch never reloads.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.markLoaded()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path == "" {
		m.cfg.Store(cfg)
		return nil
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	m.markLoaded()
	return nil
}

// markLoaded records the file's current mtime so Watch skips our own writes.
func (m *Manager) markLoaded() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
