package config

import (
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/spf13/viper"
)

const envPrefix = "CHUNKTRANSFER"

// NewRepository returns an env.Repository that resolves keys from settings first
// (flags, config file and prefixed environment variables) and falls back to osRepository.
// CHUNKTRANSFER_API_URL is looked up as the "api_url" setting, unprefixed keys such as
// AWS_ACCESS_KEY_ID as "aws_access_key_id".
func NewRepository(osRepository env.Repository, settings *viper.Viper) env.Repository {
	return settingsRepository{
		osRepository: osRepository,
		settings:     settings,
	}
}

type settingsRepository struct {
	osRepository env.Repository
	settings     *viper.Viper
}

// Get ...
func (r settingsRepository) Get(key string) string {
	if name := SettingName(key); r.settings.IsSet(name) {
		return r.settings.GetString(name)
	}
	return r.osRepository.Get(key)
}

// Set ...
func (r settingsRepository) Set(key, value string) error {
	r.settings.Set(SettingName(key), value)
	return nil
}

// Unset ...
func (r settingsRepository) Unset(key string) error {
	r.settings.Set(SettingName(key), "")
	return r.osRepository.Unset(key)
}

// List ...
func (r settingsRepository) List() []string {
	return r.osRepository.List()
}

// SettingName maps an environment key to its settings name.
func SettingName(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, envPrefix+"_"))
}

// NewSettings returns a viper instance that reads CHUNKTRANSFER_ prefixed environment variables.
func NewSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}
