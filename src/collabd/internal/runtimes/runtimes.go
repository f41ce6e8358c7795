// Package runtimes holds the catalog of supported languages and their sandbox
// invocation recipes.
package runtimes

import (
	"fmt"
	"sort"

	"github.com/collabcode/collabd/src/collabd/entity"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyRuntimes = "runtimes"

	// DefaultLanguage is used when a caller supplies none or an unsupported
	// placeholder.
	DefaultLanguage = "javascript"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Table is the read-only runtime profile catalog. Entries never change after
// construction; administrable overrides come from the runtimes config block.
type Table interface {
	// Profile returns the invocation recipe for the given language.
	Profile(language string) (entity.RuntimeProfile, bool)
	// Supported reports whether the language is in the catalog.
	Supported(language string) bool
	// Languages lists the catalog sorted by language id.
	Languages() []entity.LanguageInfo
	// Template returns the starter code for the language, falling back to the
	// default language's template for unknown ids.
	Template(language string) string
	// DefaultLanguage returns the catalog's fallback language id.
	DefaultLanguage() string
}

// Params are inbound parameters to construct the table.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
}

type table struct {
	profiles map[string]entity.RuntimeProfile
}

// New builds the catalog from the built-in profiles merged with any entries
// from the runtimes config block. A config entry with an existing language id
// replaces the built-in profile wholesale.
func New(p Params) (Table, error) {
	profiles := builtins()

	var overlay []entity.RuntimeProfile
	if err := p.Config.Get(_configKeyRuntimes).Populate(&overlay); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyRuntimes, err)
	}
	for _, profile := range overlay {
		if profile.Language == "" {
			return nil, fmt.Errorf("runtime profile in config is missing a language id")
		}
		if profile.Template == "" {
			if existing, ok := profiles[profile.Language]; ok {
				profile.Template = existing.Template
			}
		}
		p.Logger.Infow("runtime profile override", "language", profile.Language, "image", profile.Image)
		profiles[profile.Language] = profile
	}

	if _, ok := profiles[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("catalog is missing the default language %q", DefaultLanguage)
	}

	return &table{profiles: profiles}, nil
}

func (t *table) Profile(language string) (entity.RuntimeProfile, bool) {
	profile, ok := t.profiles[language]
	return profile, ok
}

func (t *table) Supported(language string) bool {
	_, ok := t.profiles[language]
	return ok
}

func (t *table) Languages() []entity.LanguageInfo {
	out := make([]entity.LanguageInfo, 0, len(t.profiles))
	for id, profile := range t.profiles {
		out = append(out, entity.LanguageInfo{
			ID:                  id,
			Name:                displayName(id),
			Extension:           profile.Extension,
			RequiresCompilation: profile.RequiresCompilation,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *table) Template(language string) string {
	if profile, ok := t.profiles[language]; ok {
		return profile.Template
	}
	return t.profiles[DefaultLanguage].Template
}

func (t *table) DefaultLanguage() string {
	return DefaultLanguage
}

func displayName(language string) string {
	names := map[string]string{
		"c":          "C",
		"cpp":        "C++",
		"python":     "Python",
		"javascript": "JavaScript",
		"typescript": "TypeScript",
		"go":         "Go",
		"rust":       "Rust",
		"java":       "Java",
		"php":        "PHP",
		"ruby":       "Ruby",
	}
	if name, ok := names[language]; ok {
		return name
	}
	return language
}

func builtins() map[string]entity.RuntimeProfile {
	return map[string]entity.RuntimeProfile{
		"python": {
			Language:  "python",
			Image:     "python-runner:latest",
			Extension: ".py",
			Command:   "timeout 10s python code.py < input.txt 2>&1 || timeout 10s python code.py 2>&1",
			Template:  templatePython,
		},
		"javascript": {
			Language:  "javascript",
			Image:     "node-runner:latest",
			Extension: ".js",
			Command:   "timeout 10s node code.js < input.txt 2>&1 || timeout 10s node code.js 2>&1",
			Template:  templateJavaScript,
		},
		"typescript": {
			Language:  "typescript",
			Image:     "typescript-runner:latest",
			Extension: ".ts",
			Command:   "timeout 300s tsx --tsconfig tsconfig.json code.ts < input.txt 2>&1 || timeout 300s tsx --tsconfig tsconfig.json code.ts 2>&1",
			TimeoutMs: 300000,
			SetupFiles: map[string]string{
				"tsconfig.json": `{
  "compilerOptions": {
    "target": "ES2020",
    "module": "commonjs",
    "moduleResolution": "node",
    "strict": true,
    "esModuleInterop": true,
    "skipLibCheck": true,
    "forceConsistentCasingInFileNames": true,
    "sourceMap": false,
    "outDir": ".tsx-cache"
  }
}
`,
				"package.json": `{
  "type": "commonjs"
}
`,
			},
			Template: templateTypeScript,
		},
		"go": {
			Language:            "go",
			Image:               "golang:1.22-alpine",
			Extension:           ".go",
			Command:             "go run code.go < input.txt 2>&1",
			RequiresCompilation: true,
			Template:            templateGo,
		},
		"rust": {
			Language:            "rust",
			Image:               "rust:1.79-slim",
			Extension:           ".rs",
			Command:             "rustc code.rs -o code && ./code < input.txt 2>&1",
			RequiresCompilation: true,
			Template:            templateRust,
		},
		"c": {
			Language:            "c",
			Image:               "gcc:13",
			Extension:           ".c",
			Command:             "gcc code.c -o code && ./code < input.txt 2>&1",
			RequiresCompilation: true,
			Template:            templateC,
		},
		"cpp": {
			Language:            "cpp",
			Image:               "gcc:13",
			Extension:           ".cpp",
			Command:             "g++ code.cpp -o code && ./code < input.txt 2>&1",
			RequiresCompilation: true,
			Template:            templateCPP,
		},
		"java": {
			Language:            "java",
			Image:               "eclipse-temurin:21",
			Extension:           ".java",
			Command:             "javac code.java && java code < input.txt 2>&1",
			RequiresCompilation: true,
			Template:            templateJava,
		},
		"php": {
			Language:  "php",
			Image:     "php:8.3-cli-alpine",
			Extension: ".php",
			Command:   "php code.php < input.txt 2>&1",
			Template:  templatePHP,
		},
		"ruby": {
			Language:  "ruby",
			Image:     "ruby:3.3-alpine",
			Extension: ".rb",
			Command:   "ruby code.rb < input.txt 2>&1",
			Template:  templateRuby,
		},
	}
}
