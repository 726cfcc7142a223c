package local

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/clusterconfig/settings"
)

// Parser turns one file's content into a settings node named name.
type Parser func(name string, content []byte) (*settings.Node, error)

// parsers maps structured file extensions to their parsers. Files with
// any other extension, or none, use the plain line format and keep their
// full file name as key.
var parsers = map[string]Parser{
	".json": parseJSON,
	".yaml": parseYAML,
	".yml":  parseYAML,
	".toml": parseTOML,
}

// ParseFolder reads a settings folder into an object tree. Each file
// becomes a child named after the file, each subdirectory a nested
// object. Hidden entries are skipped, as are files larger than maxFileSize
// when it is positive; those are reported to log.
//
// A folder that does not exist yields a nil tree.
func ParseFolder(folder string, maxFileSize int64, log logrus.FieldLogger) (*settings.Node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	info, err := os.Stat(folder)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("settings folder %s is not a directory", folder)
	}
	return parseDir("", folder, maxFileSize, log)
}

func parseDir(name, dir string, maxFileSize int64, log logrus.FieldLogger) (*settings.Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	children := make([]*settings.Node, 0, len(entries))
	for _, e := range entries {
		if ignored(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			child, err := parseDir(e.Name(), path, maxFileSize, log)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if maxFileSize > 0 && info.Size() > maxFileSize {
			log.WithFields(logrus.Fields{
				"file":  path,
				"size":  info.Size(),
				"limit": maxFileSize,
			}).Warn("Skipping settings file larger than the size limit")
			continue
		}
		child, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return settings.NewObject(name, children...), nil
}

// ParseFile parses a single settings file, choosing the format by
// extension.
func ParseFile(path string) (*settings.Node, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))

	if parse, ok := parsers[ext]; ok {
		node, err := parse(strings.TrimSuffix(base, filepath.Ext(base)), content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
		return node, nil
	}
	return parseLines(base, content)
}

func parseJSON(name string, content []byte) (*settings.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return settings.FromValue(name, v), nil
}

func parseYAML(name string, content []byte) (*settings.Node, error) {
	var v any
	if err := yaml.Unmarshal(content, &v); err != nil {
		return nil, err
	}
	return settings.FromValue(name, v), nil
}

func parseTOML(name string, content []byte) (*settings.Node, error) {
	var v map[string]any
	if err := toml.Unmarshal(content, &v); err != nil {
		return nil, err
	}
	return settings.FromValue(name, v), nil
}

// parseLines reads the plain format: "key = value" lines become object
// members, repeated keys become arrays, and a file of bare lines becomes
// a value (one line) or an array (several). Blank lines and lines starting
// with '#' or "//" are skipped.
func parseLines(name string, content []byte) (*settings.Node, error) {
	type member struct {
		key    string
		values []string
	}
	var (
		keyed []*member
		index = make(map[string]*member)
		bare  []string
	)

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 64*1024), len(content)+1)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			bare = append(bare, line)
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		m, seen := index[strings.ToLower(k)]
		if !seen {
			m = &member{key: k}
			index[strings.ToLower(k)] = m
			keyed = append(keyed, m)
		}
		m.values = append(m.values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	if len(keyed) == 0 {
		switch len(bare) {
		case 0:
			return settings.NewValue(name, ""), nil
		case 1:
			return settings.NewValue(name, bare[0]), nil
		default:
			return settings.FromValue(name, bare), nil
		}
	}

	children := make([]*settings.Node, 0, len(keyed))
	for _, m := range keyed {
		if len(m.values) == 1 {
			children = append(children, settings.NewValue(m.key, m.values[0]))
		} else {
			children = append(children, settings.FromValue(m.key, m.values))
		}
	}
	return settings.NewObject(name, children...), nil
}
