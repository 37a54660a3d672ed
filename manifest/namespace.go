package manifest

import (
	"go/token"
	"strings"
	"unicode"
)

// ReceiverName derives an exported Go type name from a project name.
// Words split at anything that is not a letter or digit and at lower to
// upper case changes; leading digits are dropped.
// "my-app" -> "MyApp", "java.util" -> "JavaUtil", "9lives" -> "Lives"
func ReceiverName(s string) string {
	var sb strings.Builder
	start, prevLower := true, false
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			start, prevLower = true, false
			continue
		case sb.Len() == 0 && unicode.IsDigit(r):
			continue
		case unicode.IsUpper(r) && prevLower:
			start = true
		}
		if start {
			sb.WriteRune(unicode.ToUpper(r))
		} else {
			sb.WriteRune(unicode.ToLower(r))
		}
		start, prevLower = false, unicode.IsLower(r)
	}
	return sb.String()
}

// PackageName derives a Go package name from a project name.
// "my-app" -> "myapp", "" -> "generated"
func PackageName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	name := sb.String()
	if name == "" {
		return "generated"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "p" + name
	}
	if IsReservedName(name) {
		name += "pkg"
	}
	return name
}

// generatedNames lists identifiers the emitted code relies on.
var generatedNames = map[string]bool{
	"bool":    true,
	"int32":   true,
	"int64":   true,
	"uint32":  true,
	"uint64":  true,
	"float32": true,
	"float64": true,
	"panic":   true,
	"math":    true,
	"m":       true,
	"b2i":     true,
}

// IsReservedName reports whether name cannot serve as the package or
// receiver type of generated code: Go keywords and the identifiers the
// emitted code itself uses.
func IsReservedName(name string) bool {
	return token.IsKeyword(name) || generatedNames[name]
}
