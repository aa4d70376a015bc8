package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the merged settings for the supervisor, PTY manager, usage
// indexer and mobile sync service.
type Config struct {
	// Logging. LogDir's layered default is OPCODE_LOG_DIR (spec §6's
	// environment variables consulted) so an operator's existing env
	// convention keeps working without a settings.json edit; an explicit
	// user/project setting still wins over it.
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
	LogDir    string `json:"log_dir,omitempty"`

	// Agent Settings
	DefaultProvider       string `json:"default_provider,omitempty"`
	DefaultReasoningEffort string `json:"default_reasoning_effort,omitempty"`
	AgentOutputTimeoutSec int    `json:"agent_output_timeout_sec,omitempty"`

	// Binary discovery
	DiscoveryCacheTTLSec int `json:"discovery_cache_ttl_sec,omitempty"`

	// Usage Indexer
	UsageTranscriptsRoot string `json:"usage_transcripts_root,omitempty"`
	UsageDBPath          string `json:"usage_db_path,omitempty"`

	// Mobile Sync
	MobileSyncEnabled    bool   `json:"mobile_sync_enabled,omitempty"`
	MobileSyncBindHost   string `json:"mobile_sync_bind_host,omitempty"`
	MobileSyncPort       int    `json:"mobile_sync_port,omitempty"`
	MobileSyncPublicHost string `json:"mobile_sync_public_host,omitempty"`
	// MobileSyncRequireWebAuthn additionally requires a platform-authenticator
	// confirmation (internal/mobilesync.WebAuthnPairing) before pair/claim
	// succeeds, on top of the 6-character pairing code.
	MobileSyncRequireWebAuthn bool `json:"mobile_sync_require_webauthn,omitempty"`

	// ExtraProviders lets an operator declare additional provider runtime
	// descriptors without recompiling; merged into the registry at startup.
	ExtraProviders []ExtraProvider `json:"-" yaml:"-"`
}

// ExtraProvider is a project-level descriptor for a provider not built into
// the registry, loaded from .codeinterfacex/agents.yaml (project dir only;
// the user-level JSON settings file never carries this).
type ExtraProvider struct {
	ProviderID  string   `yaml:"provider_id"`
	BinaryName  string   `yaml:"binary_name"`
	BaseArgs    []string `yaml:"base_args"`
	ModelFlag   string   `yaml:"model_flag"`
	PromptFirst bool     `yaml:"prompt_first"`
}

type Manager struct {
	userConfig    *Config
	projectConfig *Config
	merged        *Config
	extraProviders []ExtraProvider
}

func NewManager() *Manager {
	return &Manager{
		userConfig:    &Config{},
		projectConfig: &Config{},
		merged:        &Config{},
	}
}

func (m *Manager) Load(userConfigDir, projectDir string) error {
	userConfigPath := filepath.Join(userConfigDir, "settings.json")
	if err := m.loadConfig(userConfigPath, m.userConfig); err != nil {
		return err
	}

	projectConfigPath := filepath.Join(projectDir, ".codeinterfacex", "settings.json")
	if err := m.loadConfig(projectConfigPath, m.projectConfig); err != nil {
		return err
	}

	if err := m.loadExtraProviders(filepath.Join(projectDir, ".codeinterfacex", "agents.yaml")); err != nil {
		return err
	}

	m.mergeConfigs()

	return nil
}

func (m *Manager) loadConfig(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, config)
}

func (m *Manager) loadExtraProviders(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var doc struct {
		Providers []ExtraProvider `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.extraProviders = doc.Providers
	return nil
}

func (m *Manager) ExtraProviders() []ExtraProvider {
	return m.extraProviders
}

func (m *Manager) mergeConfigs() {
	m.merged = &Config{
		LogLevel:               m.getStringValue(m.userConfig.LogLevel, m.projectConfig.LogLevel, "info"),
		LogFormat:              m.getStringValue(m.userConfig.LogFormat, m.projectConfig.LogFormat, "text"),
		LogDir:                 m.getStringValue(m.userConfig.LogDir, m.projectConfig.LogDir, os.Getenv("OPCODE_LOG_DIR")),
		DefaultProvider:        m.getStringValue(m.userConfig.DefaultProvider, m.projectConfig.DefaultProvider, "claude"),
		DefaultReasoningEffort: m.getStringValue(m.userConfig.DefaultReasoningEffort, m.projectConfig.DefaultReasoningEffort, ""),
		AgentOutputTimeoutSec:  m.getIntValue(m.userConfig.AgentOutputTimeoutSec, m.projectConfig.AgentOutputTimeoutSec, 30),
		DiscoveryCacheTTLSec:   m.getIntValue(m.userConfig.DiscoveryCacheTTLSec, m.projectConfig.DiscoveryCacheTTLSec, 30),
		UsageTranscriptsRoot:   m.getStringValue(m.userConfig.UsageTranscriptsRoot, m.projectConfig.UsageTranscriptsRoot, ""),
		UsageDBPath:            m.getStringValue(m.userConfig.UsageDBPath, m.projectConfig.UsageDBPath, ""),
		MobileSyncEnabled:      m.getBoolValue(m.userConfig.MobileSyncEnabled, m.projectConfig.MobileSyncEnabled, false),
		MobileSyncBindHost:     m.getStringValue(m.userConfig.MobileSyncBindHost, m.projectConfig.MobileSyncBindHost, "127.0.0.1"),
		MobileSyncPort:         m.getIntValue(m.userConfig.MobileSyncPort, m.projectConfig.MobileSyncPort, 4173),
		MobileSyncPublicHost:   m.getStringValue(m.userConfig.MobileSyncPublicHost, m.projectConfig.MobileSyncPublicHost, "127.0.0.1"),
		MobileSyncRequireWebAuthn: m.getBoolValue(m.userConfig.MobileSyncRequireWebAuthn, m.projectConfig.MobileSyncRequireWebAuthn, false),
		ExtraProviders:         m.extraProviders,
	}
}

func (m *Manager) getStringValue(user, project, defaultValue string) string {
	if project != "" {
		return project
	}
	if user != "" {
		return user
	}
	return defaultValue
}

func (m *Manager) getBoolValue(user, project, defaultValue bool) bool {
	if project {
		return project
	}
	if user {
		return user
	}
	return defaultValue
}

func (m *Manager) getIntValue(user, project, defaultValue int) int {
	if project != 0 {
		return project
	}
	if user != 0 {
		return user
	}
	return defaultValue
}

func (m *Manager) Get() *Config {
	return m.merged
}

func (m *Manager) SaveUserConfig(userConfigDir string) error {
	configPath := filepath.Join(userConfigDir, "settings.json")

	if err := os.MkdirAll(userConfigDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.userConfig, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

func (m *Manager) SaveProjectConfig(projectDir string) error {
	dir := filepath.Join(projectDir, ".codeinterfacex")
	configPath := filepath.Join(dir, "settings.json")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.projectConfig, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
