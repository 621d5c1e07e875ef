package pac

import (
	"encoding/json"
	"strings"

	"github.com/goodtune/pac-router/internal/rules"
)

// Render writes t as a FindProxyForURL script that browsers can load.
// Rules keep their order and target; every pattern becomes one shExpMatch.
func Render(t *rules.Table) string {
	var b strings.Builder
	def := jsString(t.Default().String())

	b.WriteString("function FindProxyForURL(url, host) {\n")
	b.WriteString("  if (!url) {\n    return " + def + ";\n  }\n")
	for _, e := range t.Entries() {
		subject := "host"
		if e.Target == rules.TargetURL {
			subject = "url"
		}
		b.WriteString("  if (shExpMatch(" + subject + ", " + jsString(e.Pattern.String()) + ")) {\n")
		b.WriteString("    return " + jsString(e.Route.String()) + ";\n  }\n")
	}
	b.WriteString("  return " + def + ";\n}\n")
	return b.String()
}

// jsString quotes s as a JavaScript string literal. JSON string syntax is a
// subset of it, including the escaping of U+2028 and U+2029.
func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
