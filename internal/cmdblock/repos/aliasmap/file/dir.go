// Package file loads alias definitions from a directory of YAML, JSON or
// TOML files. Each file may declare a namespace and a commands table:
//
//	namespace: essentials
//	commands:
//	  help: ["?", "h"]
//	  tell: [msg, w]
//	  plugins: pl
//
// With a namespace, every command and alias is also known in its
// "namespace:name" form, mirroring how platforms qualify plugin commands.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/common/utils"
	"github.com/haukened/cmdblock/internal/cmdblock/domain"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/aliasmap"
)

// keyDelimiter only addresses top-level keys. The commands table is read
// raw, so "/" in command names (WorldEdit's "/wand") survives unsplit.
const keyDelimiter = "/"

// DirSource is an aliasmap.Source backed by a directory of definition files.
type DirSource struct {
	dir    string
	logger log.Logger
}

// NewDirSource returns a source reading from dir.
func NewDirSource(dir string, logger log.Logger) *DirSource {
	return &DirSource{dir: dir, logger: log.OrNoop(logger)}
}

func (s *DirSource) Name() string { return "file:" + s.dir }

// Dir returns the directory being read.
func (s *DirSource) Dir() string { return s.dir }

// Load walks the directory in lexical order and merges every supported file.
// A missing directory yields an empty map; a malformed file fails the load.
func (s *DirSource) Load(ctx context.Context) (domain.AliasMap, error) {
	out := domain.AliasMap{}
	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug(map[string]any{"alias_dir": s.dir}, "Alias directory does not exist")
		return out, nil
	}

	files := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := loadAliasFile(path)
		if err != nil {
			return fmt.Errorf("error parsing alias file %s: %w", path, err)
		}
		if m != nil {
			files++
			out.Merge(m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug(map[string]any{"alias_dir": s.dir, "files": files, "commands": len(out)}, "Alias files loaded")
	return out, nil
}

// Supported reports whether path has an extension Load understands.
func Supported(path string) bool {
	return parserFor(path) != nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return nil
	}
}

// loadAliasFile parses one file. Unsupported extensions return (nil, nil).
func loadAliasFile(path string) (domain.AliasMap, error) {
	parser := parserFor(path)
	if parser == nil {
		return nil, nil
	}

	k := koanf.New(keyDelimiter)
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load alias file %s: %w", path, err)
	}

	namespace := strings.TrimSpace(k.String("namespace"))
	if strings.Contains(namespace, utils.ModPrefixSeparator) {
		return nil, fmt.Errorf("namespace %q must not contain %q", namespace, utils.ModPrefixSeparator)
	}

	raw, ok := k.Raw()["commands"]
	if !ok {
		return domain.AliasMap{}, nil
	}
	commands, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'commands' must be a table of command names")
	}

	out := domain.AliasMap{}
	for command, val := range commands {
		command = strings.TrimSpace(command)
		if err := checkName(command); err != nil {
			return nil, fmt.Errorf("command %w", err)
		}
		aliases, err := normalize(val)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}
		for _, a := range aliases {
			if err := checkName(a); err != nil {
				return nil, fmt.Errorf("command %q: alias %w", command, err)
			}
		}
		addCommand(out, namespace, command, aliases)
	}
	return out, nil
}

// addCommand registers command and, when namespaced, the qualified forms.
func addCommand(m domain.AliasMap, namespace, command string, aliases []string) {
	m.Add(command, aliases...)
	if namespace == "" {
		return
	}
	qc := qualify(namespace, command)
	qualified := make([]string, 0, len(aliases)+1)
	qualified = append(qualified, qc)
	for _, a := range aliases {
		qualified = append(qualified, qualify(namespace, a))
	}
	m.Add(command, qualified...)

	// the qualified name resolves to the same family of names
	m.Add(qc, command)
	m.Add(qc, aliases...)
	m.Add(qc, qualified[1:]...)
}

// checkName rejects names that can never match a dispatched command token.
func checkName(name string) error {
	switch {
	case name == "":
		return errors.New("name must not be empty")
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return fmt.Errorf("name %q must not contain whitespace", name)
	}
	return nil
}

func qualify(namespace, name string) string {
	return namespace + utils.ModPrefixSeparator + name
}

// normalize accepts a single alias string, a list of strings, or nothing.
func normalize(val any) ([]string, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("alias %v is not a string", x)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case map[string]any:
		return nil, errors.New("aliases must be a string or list, not a nested table; quote names that look like paths")
	default:
		return nil, fmt.Errorf("aliases must be a string or list, got %T", val)
	}
}

var _ aliasmap.Source = (*DirSource)(nil)
