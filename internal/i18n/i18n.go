// Package i18n localizes system-generated dialogue entries. Bundles are
// embedded YAML files, one per language, with dotted-key lookup and an
// English fallback.
package i18n

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

const fallbackLang = "en"

// Translator resolves message keys for a language.
type Translator struct {
	bundles map[string]map[string]string
}

// Load parses every embedded locale bundle.
func Load() (*Translator, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("reading locales: %w", err)
	}

	bundles := make(map[string]map[string]string, len(entries))
	for _, e := range entries {
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading locale %s: %w", e.Name(), err)
		}

		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parsing locale %s: %w", e.Name(), err)
		}

		lang := e.Name()[:len(e.Name())-len(".yaml")]
		flat := make(map[string]string)
		flatten("", tree, flat)
		bundles[lang] = flat
	}

	if _, ok := bundles[fallbackLang]; !ok {
		return nil, fmt.Errorf("missing fallback locale %q", fallbackLang)
	}
	return &Translator{bundles: bundles}, nil
}

// T returns the message for a dotted key in the given language, falling
// back to English and finally to the key itself.
func (t *Translator) T(lang, key string) string {
	if b, ok := t.bundles[lang]; ok {
		if msg, ok := b[key]; ok {
			return msg
		}
	}
	if msg, ok := t.bundles[fallbackLang][key]; ok {
		return msg
	}
	return key
}

// Languages lists the loaded locale tags.
func (t *Translator) Languages() []string {
	langs := make([]string, 0, len(t.bundles))
	for lang := range t.bundles {
		langs = append(langs, lang)
	}
	return langs
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
