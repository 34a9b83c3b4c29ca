package tools

import (
	"github.com/ollm-core/agentcore/internal/agent"
	"github.com/ollm-core/agentcore/internal/tools/security"
)

// wrapShellTool adapts the exec-backed shell tool with command-aware
// confirmation: commands the shell analyzer can prove safe run without a
// prompt, anything carrying a dangerous token or shell metacharacters
// asks first, with the analyzer's reason attached to the summary.
func wrapShellTool(inner agent.Tool) Tool {
	return &agentToolAdapter{
		inner: inner,
		name:  "shell",
		risk:  RiskDangerous,
		describe: func(p map[string]any) string {
			if cmd := stringField(p, "command"); cmd != "" {
				return "run: " + cmd
			}
			return "shell call"
		},
		confirmCheck: func(p map[string]any) (string, bool) {
			cmd := stringField(p, "command")
			if cmd == "" {
				return "", true
			}
			if security.IsSafeCommand(cmd) {
				return "", false
			}
			return security.ExtractUnsafeReason(cmd), true
		},
	}
}
