package logging

import (
	"io"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor masks known secrets in every write before passing it on.
// zerolog hands each event to the writer in a single Write call, so a secret
// never straddles two writes.
type Redactor struct {
	out      io.Writer
	replacer *strings.Replacer
}

// NewRedactor wraps out. Empty secrets are ignored.
func NewRedactor(out io.Writer, secrets ...string) *Redactor {
	cleaned := make([]string, 0, len(secrets))
	seen := make(map[string]struct{}, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		cleaned = append(cleaned, s)
	}
	// longest first so a secret containing another one is masked whole
	sort.Slice(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })

	r := &Redactor{out: out}
	if len(cleaned) > 0 {
		pairs := make([]string, 0, len(cleaned)*2)
		for _, s := range cleaned {
			pairs = append(pairs, s, redacted)
		}
		r.replacer = strings.NewReplacer(pairs...)
	}
	return r
}

// Write implements io.Writer. It reports len(p) on success so callers do not
// treat a shorter masked payload as a short write.
func (r *Redactor) Write(p []byte) (int, error) {
	if r.replacer == nil {
		return r.out.Write(p)
	}
	masked := r.replacer.Replace(string(p))
	if _, err := io.WriteString(r.out, masked); err != nil {
		return 0, err
	}
	return len(p), nil
}
