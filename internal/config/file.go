package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values. Unknown variables are left as-is.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadFile reads a YAML bootstrap file and returns it as a patch against the
// default runtime configuration. The patch shape means a partial file leaves
// the remaining defaults untouched, and a hot reload merges the same way.
func LoadFile(path string) (Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Patch{}, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	var p Patch
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(p); err != nil {
		return Patch{}, fmt.Errorf("validating config: %w", err)
	}
	return p, nil
}

func validate(p Patch) error {
	if p.InlineMaxRows != nil && *p.InlineMaxRows < 0 {
		return fmt.Errorf("inline_max_rows must not be negative")
	}
	if p.InlineMaxBytes != nil && *p.InlineMaxBytes < 0 {
		return fmt.Errorf("inline_max_bytes must not be negative")
	}
	for name, s := range p.Sessions {
		if s.DSNSecret != nil && *s.DSNSecret == "" {
			return fmt.Errorf("session %q: dsn_secret must not be empty", name)
		}
		if s.ConninfoSecret != nil && *s.ConninfoSecret == "" {
			return fmt.Errorf("session %q: conninfo_secret must not be empty", name)
		}
	}
	return nil
}
