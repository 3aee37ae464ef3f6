package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type redactRule struct {
	re *regexp.Regexp
	// repl may reference capture groups, e.g. "${1}[REDACTED]" to keep a key name.
	repl []byte
}

// Redactor scrubs provider credentials and signed asset URLs from log lines.
type Redactor struct {
	rules []redactRule
}

// NewRedactor returns a redactor for OpenAI, Anthropic, Gemini and AWS
// credentials, bearer tokens, presigned S3 query parameters and key=value
// secrets.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range []string{
		`sk-ant-[A-Za-z0-9_-]{16,}`,
		`sk-(?:proj-)?[A-Za-z0-9_-]{16,}`,
		`AIza[0-9A-Za-z_-]{35}`,
		`(?:AKIA|ASIA)[0-9A-Z]{16}`,
	} {
		r.rules = append(r.rules, redactRule{re: regexp.MustCompile(p), repl: []byte(redacted)})
	}
	for _, p := range []string{
		`(Bearer\s+)[A-Za-z0-9._~+/=-]+`,
		`((?:X-Amz-Signature|X-Amz-Credential|X-Amz-Security-Token)=)[^&\s"]+`,
		`(?i)((?:api_key|apikey|secret_access_key|password|secret)"?\s*[:=]\s*"?)[^\s",}]+`,
	} {
		r.rules = append(r.rules, redactRule{re: regexp.MustCompile(p), repl: []byte("${1}" + redacted)})
	}
	return r
}

// AddPattern redacts every match of pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactRule{re: re, repl: []byte(redacted)})
	return nil
}

// Redact returns s with secrets replaced.
func (r *Redactor) Redact(s string) string {
	return string(r.redact([]byte(s)))
}

func (r *Redactor) redact(p []byte) []byte {
	for _, rule := range r.rules {
		if rule.re.Match(p) {
			p = rule.re.ReplaceAll(p, rule.repl)
		}
	}
	return p
}

// Wrap returns a writer that redacts each write before passing it on.
// zerolog emits one event per write, so secrets are never split.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{out: w, r: r}
}

type redactingWriter struct {
	out io.Writer
	r   *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write(w.r.redact(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
