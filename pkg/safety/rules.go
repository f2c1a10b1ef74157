package safety

import (
	"os"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/y-hosokawa/hibari/pkg/model"
)

// DefaultRules returns the built-in screening rules. The slice is freshly
// allocated on each call so callers can append without aliasing.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "private_key_block",
			Type:     model.FlagPrivateKey,
			Severity: model.SeverityBlock,
			Pattern:  regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`),
			Redact:   true,
		},
		{
			Name:     "aws_access_key",
			Type:     model.FlagHardcodedSecret,
			Severity: model.SeverityWarn,
			Pattern:  regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Redact:   true,
		},
		{
			Name:     "bearer_token",
			Type:     model.FlagHardcodedSecret,
			Severity: model.SeverityWarn,
			Pattern:  regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]{20,}`),
			Redact:   true,
		},
		{
			Name:     "credential_assignment",
			Type:     model.FlagHardcodedSecret,
			Severity: model.SeverityWarn,
			Pattern:  regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|access[_-]?token)\s*[:=]\s*["']?[a-z0-9\-_]{16,}`),
			Redact:   true,
		},
		{
			Name:     "recursive_force_remove",
			Type:     model.FlagDestructiveShell,
			Severity: model.SeverityBlock,
			Pattern:  regexp.MustCompile(`(?i)\brm\s+-(?:[a-z]*r[a-z]*f|[a-z]*f[a-z]*r)[a-z]*\b`),
		},
		{
			Name:     "fork_bomb",
			Type:     model.FlagDestructiveShell,
			Severity: model.SeverityBlock,
			Pattern:  regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;\s*:`),
		},
		{
			Name:     "raw_device_write",
			Type:     model.FlagDestructiveShell,
			Severity: model.SeverityBlock,
			Pattern:  regexp.MustCompile(`(?i)\bdd\s+[^|;]*\bof=/dev/`),
		},
		{
			Name:     "download_pipe_shell",
			Type:     model.FlagPipeToShell,
			Severity: model.SeverityBlock,
			Pattern:  regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|\n]*\|\s*(?:ba|z|da)?sh\b`),
		},
		{
			Name:     "base64_decode_pipe",
			Type:     model.FlagCodeExecution,
			Severity: model.SeverityBlock,
			Pattern:  regexp.MustCompile(`(?i)\bbase64\s+(?:-d|--decode)\b[^|\n]*\|`),
		},
		{
			Name:     "eval_call",
			Type:     model.FlagCodeExecution,
			Severity: model.SeverityWarn,
			Pattern:  regexp.MustCompile(`(?i)\beval\s*\(`),
		},
		{
			Name:     "exec_call",
			Type:     model.FlagCodeExecution,
			Severity: model.SeverityWarn,
			Pattern:  regexp.MustCompile(`(?i)\bexec\s*\(`),
		},
	}
}

type ruleFileEntry struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Severity string `yaml:"severity"`
	Pattern  string `yaml:"pattern"`
	Redact   bool   `yaml:"redact"`
}

type ruleFile struct {
	Rules []ruleFileEntry `yaml:"rules"`
}

// LoadRules reads additional screening rules from a YAML file
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read rule file", goerr.V("path", path))
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse rule file", goerr.V("path", path))
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		if entry.Name == "" || entry.Pattern == "" {
			return nil, goerr.New("rule requires name and pattern", goerr.V("rule", entry.Name))
		}

		severity := model.Severity(entry.Severity)
		if severity != model.SeverityWarn && severity != model.SeverityBlock {
			return nil, goerr.New("rule severity must be warn or block",
				goerr.V("rule", entry.Name),
				goerr.V("severity", entry.Severity),
			)
		}

		pattern, err := regexp.Compile(entry.Pattern)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid rule pattern", goerr.V("rule", entry.Name))
		}

		rules = append(rules, Rule{
			Name:     entry.Name,
			Type:     model.FlagType(entry.Type),
			Severity: severity,
			Pattern:  pattern,
			Redact:   entry.Redact,
		})
	}

	return rules, nil
}
