package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ReadFile loads a YAML config file into v. Environment variables referenced
// as ${VAR_NAME} in the file are expanded before parsing.
func ReadFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	content := os.ExpandEnv(string(data))

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(content)); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// DefaultYAML renders the defaults as a nested YAML document.
func DefaultYAML() ([]byte, error) {
	root := map[string]any{}
	for _, d := range defaults {
		setPath(root, strings.Split(d.key, "."), d.value)
	}
	return yaml.Marshal(root)
}

// WriteDefaultConfig writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := DefaultYAML()
	if err != nil {
		return fmt.Errorf("render default config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// secretKeys are masked by EffectiveYAML.
var secretKeys = []string{"secret", "password"}

// EffectiveYAML renders every setting visible to v with secrets masked.
func EffectiveYAML(v *viper.Viper) ([]byte, error) {
	root := map[string]any{}
	keys := v.AllKeys()
	sort.Strings(keys)
	for _, k := range keys {
		val := v.Get(k)
		if isSecret(k) {
			if s, ok := val.(string); ok && s != "" {
				val = "********"
			}
		}
		setPath(root, strings.Split(k, "."), val)
	}
	return yaml.Marshal(root)
}

func isSecret(key string) bool {
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func setPath(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}
