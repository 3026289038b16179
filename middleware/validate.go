package middleware

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// FieldType names the value types a validation rule can require.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeEmail   FieldType = "email"
	TypeURL     FieldType = "url"
	TypeUUID    FieldType = "uuid"
	TypeIP      FieldType = "ip"
)

// Rule describes the validation applied to a single input field.
type Rule struct {
	Field     string    `yaml:"field" json:"field"`
	Type      FieldType `yaml:"type" json:"type"`
	Required  bool      `yaml:"required" json:"required"`
	MinLength int       `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength int       `yaml:"max_length" json:"max_length,omitempty"`
	Pattern   string    `yaml:"pattern" json:"pattern,omitempty"`
	Sanitize  bool      `yaml:"sanitize" json:"sanitize,omitempty"`
}

// ValidationResult reports the outcome of ValidateInput. Fields that failed
// any check are absent from SanitizedData.
type ValidationResult struct {
	IsValid       bool
	Errors        []string
	SanitizedData map[string]any
}

var dangerousSchemes = regexp.MustCompile(`(?i)(javascript|data|vbscript)\s*:`)

// ValidateInput checks data against rules. Checks run in order per field:
// required, then type, then length and pattern. A field that fails any check
// is reported in Errors and excluded from SanitizedData rather than passed
// through partially cleaned.
func ValidateInput(data map[string]any, rules []Rule) ValidationResult {
	result := ValidationResult{
		IsValid:       true,
		SanitizedData: make(map[string]any),
	}

	for _, rule := range rules {
		value, present := data[rule.Field]

		if !present || value == nil || value == "" {
			if rule.Required {
				result.fail("%s is required", rule.Field)
			}
			continue
		}

		str, isStr := value.(string)
		switch rule.Type {
		case TypeString, TypeEmail, TypeURL, TypeUUID, TypeIP:
			if !isStr {
				result.fail("%s must be a string", rule.Field)
				continue
			}
		case TypeNumber:
			switch value.(type) {
			case int, int32, int64, float32, float64:
			default:
				result.fail("%s must be a number", rule.Field)
				continue
			}
		case TypeBoolean:
			if _, ok := value.(bool); !ok {
				result.fail("%s must be a boolean", rule.Field)
				continue
			}
		default:
			result.fail("%s has unknown type %q", rule.Field, rule.Type)
			continue
		}

		if isStr {
			if !checkFormat(rule.Type, str) {
				result.fail("%s is not a valid %s", rule.Field, rule.Type)
				continue
			}
			if rule.MinLength > 0 && len(str) < rule.MinLength {
				result.fail("%s must be at least %d characters", rule.Field, rule.MinLength)
				continue
			}
			if rule.MaxLength > 0 && len(str) > rule.MaxLength {
				result.fail("%s must be at most %d characters", rule.Field, rule.MaxLength)
				continue
			}
			if rule.Pattern != "" {
				re, err := regexp.Compile(rule.Pattern)
				if err != nil {
					result.fail("%s has an invalid pattern rule", rule.Field)
					continue
				}
				if !re.MatchString(str) {
					result.fail("%s does not match the required format", rule.Field)
					continue
				}
			}
			if rule.Sanitize {
				result.SanitizedData[rule.Field] = SanitizeString(str)
				continue
			}
		}
		result.SanitizedData[rule.Field] = value
	}
	return result
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.IsValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func checkFormat(t FieldType, s string) bool {
	switch t {
	case TypeEmail:
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	case TypeURL:
		u, err := url.Parse(s)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	case TypeUUID:
		return uuid.Validate(s) == nil
	case TypeIP:
		return net.ParseIP(s) != nil
	default:
		return true
	}
}

// SanitizeString strips markup delimiters, quote characters and dangerous URI
// schemes, and HTML-escapes ampersands. It is lossy on purpose; use it for
// values destined for storage or display, not for round-tripping.
func SanitizeString(s string) string {
	s = dangerousSchemes.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&", "&amp;")
	replacer := strings.NewReplacer(
		"<", "",
		">", "",
		`"`, "",
		"'", "",
		"`", "",
	)
	return strings.TrimSpace(replacer.Replace(s))
}
