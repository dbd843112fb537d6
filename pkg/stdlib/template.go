package stdlib

import (
	"strings"
	"text/template"

	"github.com/eikobot/eikobot/pkg/plugin"
)

// renderTemplate renders a text/template with string values.
func renderTemplate(args []any) (any, error) {
	text := args[0].(string)
	values, _ := args[1].(map[string]any)

	tmpl, err := template.New("template").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, plugin.NewUserError("invalid template: %v", err)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, values); err != nil {
		return nil, plugin.NewUserError("failed to render template: %v", err)
	}
	return out.String(), nil
}
