package extensions

import (
	"fmt"
	"strings"

	"github.com/ollm-core/agentcore/pkg/models"
)

// RenderSkill substitutes {{placeholder}} tokens in a manifest skill's
// prompt template with values. Required placeholders lacking a value are
// errors; non-required placeholders without a value are left as empty
// strings.
func RenderSkill(sk models.ManifestSkill, values map[string]string) (string, error) {
	required := make(map[string]bool, len(sk.Required))
	for _, r := range sk.Required {
		required[r] = true
	}

	out := sk.Prompt
	for _, ph := range sk.Placeholders {
		token := "{{" + ph + "}}"
		val, ok := values[ph]
		if !ok && required[ph] {
			return "", fmt.Errorf("extensions: skill %q is missing required placeholder %q", sk.Name, ph)
		}
		out = strings.ReplaceAll(out, token, val)
	}
	return out, nil
}

// SkillKey builds the "extension/skill-name" key a manifest skill is
// loaded under.
func SkillKey(extensionName, skillName string) string {
	return extensionName + "/" + skillName
}
