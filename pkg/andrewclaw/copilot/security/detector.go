// Package security – detector.go implements the inbound threat check: a
// case-insensitive substring scan over configured phrase lists, one list per
// threat category, each with a canned reply shown to the user.
package security

import (
	"sort"
	"strings"
)

// Threat categories shipped by default.
const (
	ThreatInformationFishing = "information_fishing"
	ThreatSecretAccess       = "secret_access"
	ThreatDataStructure      = "data_structure"
)

// fallbackResponse is used for configured categories with no reply template.
const fallbackResponse = "Esta solicitud fue bloqueada por las políticas de seguridad."

// DefaultPatterns are the phrase lists per category. Accented and
// unaccented spellings are both listed because input is not normalized.
var DefaultPatterns = map[string][]string{
	ThreatInformationFishing: {
		"dime información de", "cuéntame sobre", "qué sabes de",
		"muéstrame el perfil de", "revela información de",
		"dime informacion de", "cuentame sobre", "que sabes de",
		"muestrame el perfil de", "revela informacion de",
	},
	ThreatSecretAccess: {
		"cuál es el secreto de", "dame el secreto de", "qué secreto tiene",
		"password de", "cual es el secreto de", "que secreto tiene",
	},
	ThreatDataStructure: {
		"cómo está estructurado", "qué campos tiene",
		"qué información guardas", "formato del archivo",
		"como esta estructurado", "que campos tiene",
		"que informacion guardas",
	},
}

// DefaultResponses are the user-visible replies per category.
var DefaultResponses = map[string]string{
	ThreatInformationFishing: "No puedo revelar información confidencial de usuarios. Todos los datos personales están protegidos.",
	ThreatSecretAccess:       "Los secretos son información personal protegida. No puedo compartirlos.",
	ThreatDataStructure:      "La estructura de datos es parte de la configuración interna del sistema.",
}

// defaultOrder fixes the scan order of the built-in categories.
var defaultOrder = []string{ThreatInformationFishing, ThreatSecretAccess, ThreatDataStructure}

// DetectorConfig overrides or extends the default categories.
type DetectorConfig struct {
	// Patterns replaces the phrase list of a category, or adds a new one.
	Patterns map[string][]string `yaml:"patterns"`

	// Responses replaces the reply of a category.
	Responses map[string]string `yaml:"responses"`

	// DisableDefaults drops the built-in categories entirely.
	DisableDefaults bool `yaml:"disable_defaults"`
}

// Threat is a positive detection.
type Threat struct {
	Type     string
	Pattern  string
	Response string
}

type category struct {
	name     string
	patterns []string
	response string
}

// PatternDetector matches lowercased input against phrase lists.
// It is immutable after construction and safe for concurrent use.
type PatternDetector struct {
	categories []category
}

// NewPatternDetector builds a detector from the defaults merged with cfg.
// Built-in categories are scanned first, in a fixed order; extra
// categories follow in name order so detection is deterministic.
func NewPatternDetector(cfg DetectorConfig) *PatternDetector {
	patterns := make(map[string][]string)
	responses := make(map[string]string)
	if !cfg.DisableDefaults {
		for k, v := range DefaultPatterns {
			patterns[k] = v
		}
		for k, v := range DefaultResponses {
			responses[k] = v
		}
	}
	for k, v := range cfg.Patterns {
		patterns[k] = v
	}
	for k, v := range cfg.Responses {
		responses[k] = v
	}

	var order []string
	seen := make(map[string]bool)
	for _, name := range defaultOrder {
		if _, ok := patterns[name]; ok {
			order = append(order, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range patterns {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	d := &PatternDetector{}
	for _, name := range order {
		c := category{name: name, response: responses[name]}
		if c.response == "" {
			c.response = fallbackResponse
		}
		for _, p := range patterns[name] {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.patterns = append(c.patterns, p)
			}
		}
		if len(c.patterns) > 0 {
			d.categories = append(d.categories, c)
		}
	}
	return d
}

// Check reports the first category whose phrase occurs in input.
func (d *PatternDetector) Check(input string) (Threat, bool) {
	lower := strings.ToLower(input)
	for _, c := range d.categories {
		for _, p := range c.patterns {
			if strings.Contains(lower, p) {
				return Threat{Type: c.name, Pattern: p, Response: c.response}, true
			}
		}
	}
	return Threat{}, false
}

// Categories returns the category names in scan order.
func (d *PatternDetector) Categories() []string {
	names := make([]string, len(d.categories))
	for i, c := range d.categories {
		names[i] = c.name
	}
	return names
}
