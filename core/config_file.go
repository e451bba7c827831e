package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultEnvPrefix = "CUSTODY_"

// YAMLConfigLoader reads the first existing candidate file and then applies
// environment overrides. Sections are separated by a double underscore, so
// CUSTODY_DATABASE__DSN sets database.dsn.
type YAMLConfigLoader struct {
	Paths     []string
	EnvPrefix string
	Environ   func() []string
	ReadFile  func(path string) ([]byte, error)
}

func NewYAMLConfigLoader(paths ...string) *YAMLConfigLoader {
	if len(paths) == 0 {
		paths = []string{"config/custody.yaml", "custody.yaml"}
	}
	return &YAMLConfigLoader{
		Paths:     paths,
		EnvPrefix: DefaultEnvPrefix,
		Environ:   os.Environ,
		ReadFile:  os.ReadFile,
	}
}

func (l *YAMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil {
		return map[string]any{}, nil
	}
	readFile := l.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}

	raw := map[string]any{}
	for _, path := range l.Paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := readFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("core: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("core: parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		break
	}

	l.applyEnvOverrides(raw)
	return raw, nil
}

func (l *YAMLConfigLoader) applyEnvOverrides(raw map[string]any) {
	prefix := l.EnvPrefix
	if prefix == "" || l.Environ == nil {
		return
	}
	for _, entry := range l.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix)), "__")
		setPath(raw, path, value)
	}
}

func setPath(raw map[string]any, path []string, value string) {
	if len(path) == 0 || path[0] == "" {
		return
	}
	if len(path) == 1 {
		raw[path[0]] = value
		return
	}
	child, ok := raw[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		raw[path[0]] = child
	}
	setPath(child, path[1:], value)
}
