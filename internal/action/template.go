package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

var (
	vaultPlaceholder    = regexp.MustCompile(`\{\{\s*vault:([\w.-]+)\s*\}\}`)
	responsePlaceholder = regexp.MustCompile(`\{\{\s*response\.(\w+)\s*\}\}`)
)

// ExtractVaultNames returns the distinct {{vault:NAME}} references in a
// template, in order of first appearance.
func ExtractVaultNames(template any) []string {
	if template == nil {
		return nil
	}
	raw, err := json.Marshal(template)
	if err != nil {
		return nil
	}

	var names []string
	seen := make(map[string]bool)
	for _, m := range vaultPlaceholder.FindAllSubmatch(raw, -1) {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ProcessTemplate substitutes {{vault:NAME}} and {{key}} placeholders
// throughout a JSON template. Substitution happens on the serialized form
// with values JSON-string-escaped, so the result is always a valid JSON
// document. A vault placeholder left unresolved is an error.
func ProcessTemplate(template map[string]any, context map[string]string, vaultSecrets map[string]string) (map[string]any, error) {
	if template == nil {
		return nil, nil
	}

	raw, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	s := string(raw)

	for name, value := range vaultSecrets {
		re := regexp.MustCompile(`\{\{\s*vault:` + regexp.QuoteMeta(name) + `\s*\}\}`)
		s = re.ReplaceAllLiteralString(s, jsonEscape(value))
	}
	for key, value := range context {
		re := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
		s = re.ReplaceAllLiteralString(s, jsonEscape(value))
	}

	if vaultPlaceholder.MatchString(s) {
		return nil, fmt.Errorf("template references vault secrets that were not provided")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("template is not valid JSON after substitution: %w", err)
	}
	return out, nil
}

// ProcessStringMap applies the same substitution to a flat string map
// (HTTP header templates).
func ProcessStringMap(template map[string]string, context map[string]string, vaultSecrets map[string]string) (map[string]string, error) {
	if template == nil {
		return nil, nil
	}

	generic := make(map[string]any, len(template))
	for k, v := range template {
		generic[k] = v
	}
	processed, err := ProcessTemplate(generic, context, vaultSecrets)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(processed))
	for k, v := range processed {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("header %q is not a string after substitution", k)
		}
		out[k] = s
	}
	return out, nil
}

// SubstituteResponse replaces {{response.field}} tokens in a success
// message with top-level fields from the action's HTTP response. Unknown
// fields substitute to the empty string.
func SubstituteResponse(message string, responseData any) string {
	fields, _ := responseData.(map[string]any)

	return responsePlaceholder.ReplaceAllStringFunc(message, func(token string) string {
		key := responsePlaceholder.FindStringSubmatch(token)[1]
		if fields == nil {
			return ""
		}
		value, ok := fields[key]
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// jsonEscape encodes a value for splicing into a JSON string literal.
func jsonEscape(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded[1 : len(encoded)-1])
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
