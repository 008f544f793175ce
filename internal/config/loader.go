package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "qasmlens.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "qasmlens.yml"

// LoadFromDir loads a ProjectConfig from the given directory.
// It looks for qasmlens.yaml or qasmlens.yml in the directory.
// Returns nil, nil if no config file is found (not an error condition).
// A relative module.path is resolved against dir.
func LoadFromDir(dir string) (*ProjectConfig, error) {
	configPath := FindConfigFile(dir)
	if configPath == "" {
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
	}

	var cfg ProjectConfig
	if err := Unmarshal(k, "", &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.Module.Path = ResolvePath(cfg.Module.Path, dir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return &cfg, nil
}

// Unmarshal decodes path of k into out. Durations accept Go duration
// strings ("250ms") and plain integers are read as nanoseconds.
func Unmarshal(k *koanf.Koanf, path string, out any) error {
	err := k.UnmarshalWithConf(path, out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           out,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Squash:           true,
		},
	})
	if err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}
	return nil
}

// FindConfigFile returns the config file in dir, or "" if there is none.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from the given directory to find a directory
// containing qasmlens.yaml or qasmlens.yml.
// Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if FindConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ResolvePath resolves a module location relative to baseDir. URLs,
// absolute paths and the empty string are returned unchanged.
func ResolvePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || IsURL(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// IsURL reports whether location is an http(s) URL.
func IsURL(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
