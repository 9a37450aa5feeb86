package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// sectionComments are written above the top-level sections of a generated
// configuration file.
var sectionComments = map[string]string{
	"logging":   "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr or a file path)",
	"server":    "Provider server: request and shutdown timeouts, path interner (sequential, hash), Prometheus metrics",
	"bus":       "Websocket bus: the daemon listen address and the URL command-line clients dial",
	"sources":   "Catalog sources by name. Types: memory (fixture), badger (db_path), filesystem (root), s3 (bucket, region)",
	"providers": "Providers published on the bus. Generations: 1, 2 (empty publishes both)",
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above every section. Durations are written in their string form ("30s").
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	formatDurations(&doc)

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# mediabus configuration\n")
	buf.WriteString("#\n")
	buf.WriteString("# Every setting can be overridden with a MEDIABUS_ environment variable,\n")
	buf.WriteString("# e.g. MEDIABUS_LOGGING_LEVEL=DEBUG or MEDIABUS_BUS_LISTEN=0.0.0.0:7070.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.String(), nil
}

// formatDurations rewrites integer values of *_timeout and *_interval keys
// as duration strings.
func formatDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if isDurationKey(key.Value) && value.Kind == yaml.ScalarNode && value.Tag == "!!int" {
				if ns, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
					value.Value = time.Duration(ns).String()
					value.Tag = "!!str"
				}
			}
		}
	}
	for _, child := range n.Content {
		formatDurations(child)
	}
}

func isDurationKey(key string) bool {
	return strings.HasSuffix(key, "_timeout") || strings.HasSuffix(key, "_interval")
}
