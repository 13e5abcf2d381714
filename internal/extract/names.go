package extract

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"git.home.luguber.info/inful/statewatch/internal/scan"
)

// Name resolution runs a three-step chain: literal string, then procedural
// template reconstruction from the name block's variables, then a cleanup of
// the raw localization key. It never fails; the worst case is a generic
// placeholder.

var titleCaser = cases.Title(language.English)

const templateBlockMax = 4_000

// resolveName resolves the name inside a party or group block window.
func (e *Extractor) resolveName(window string) string {
	if name, ok := scan.Str(window, "name"); ok {
		return name
	}
	span, ok := scan.NestedBlock(window, "name", templateBlockMax)
	if !ok {
		return "Unknown"
	}
	nameBlock := window[span.Start:span.End]
	key, ok := scan.Str(nameBlock, "key")
	if !ok {
		return "Unknown"
	}
	if strings.Contains(key, "%") || strings.Contains(nameBlock, "variables=") {
		if name := resolveTemplate(nameBlock); name != "" {
			return name
		}
	}
	return cleanupKey(key)
}

// resolveTemplate rebuilds a procedural name like "%ADJECTIVE%" from the
// literal value keys nested in the variables block, in document order.
func resolveTemplate(nameBlock string) string {
	var parts []string
	for _, key := range scan.RepeatedStr(nameBlock, "key") {
		if strings.Contains(key, "%") || key == "adjective" {
			continue
		}
		if isTemplateVarLabel(key) {
			continue
		}
		if clean := cleanupComponent(key); clean != "" {
			parts = append(parts, clean)
		}
	}
	return strings.Join(parts, " ")
}

// isTemplateVarLabel filters the variable slot labels ("1", "2", ...) that
// share the key= shape with the actual values.
func isTemplateVarLabel(key string) bool {
	if key == "" {
		return true
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}

// cleanupComponent strips the component prefixes a template value carries.
func cleanupComponent(key string) string {
	for _, prefix := range []string{"SPEC_", "ADJ_", "NAME_", "SUFFIX_"} {
		if strings.HasPrefix(key, prefix) {
			key = key[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(key, "_", " "))
}

// cleanupKey turns a raw localization key into something readable.
func cleanupKey(key string) string {
	switch {
	case strings.HasPrefix(key, "AWAKENED_EMPIRE_"):
		return eraEmpireName("Awakened Empire", key[len("AWAKENED_EMPIRE_"):])
	case strings.HasPrefix(key, "FALLEN_EMPIRE_"):
		return eraEmpireName("Fallen Empire", key[len("FALLEN_EMPIRE_"):])
	case strings.HasPrefix(key, "NAME_"):
		return strings.ReplaceAll(key[len("NAME_"):], "_", " ")
	case strings.HasPrefix(key, "EMPIRE_DESIGN_"):
		part := key[len("EMPIRE_DESIGN_"):]
		part = splitTrailingDigits(part)
		return titleCaser.String(strings.ReplaceAll(part, "_", " "))
	}
	for _, prefix := range []string{"EMPIRE_", "COUNTRY_", "CIV_"} {
		if strings.HasPrefix(key, prefix) {
			key = key[len(prefix):]
			break
		}
	}
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

func eraEmpireName(label, suffix string) string {
	if suffix == "" {
		return label
	}
	if isTemplateVarLabel(suffix) {
		return fmt.Sprintf("%s %s", label, suffix)
	}
	return fmt.Sprintf("%s (%s)", label, titleCaser.String(strings.ReplaceAll(suffix, "_", " ")))
}

// splitTrailingDigits inserts a space before a trailing number: "humans1"
// becomes "humans 1".
func splitTrailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == 0 || i == len(s) {
		return s
	}
	return s[:i] + " " + s[i:]
}

func unknownParty(id int64) string {
	return fmt.Sprintf("Unknown Empire %d", id)
}
