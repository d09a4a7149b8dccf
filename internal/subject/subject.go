// Package subject handles qualified subject names. A subject may carry a
// context prefix in the Confluent wire form `:.context:subject`; subjects
// without a prefix live in the default context.
package subject

import (
	"fmt"
	"strings"
)

// DefaultContext is the context unqualified subjects belong to.
const DefaultContext = "."

// DefaultTenant is the tenant recorded on context markers in a
// single-tenant deployment.
const DefaultTenant = "default"

// WildcardContext in a qualified name selects every context, used for
// cross-context subject listings.
const WildcardContext = ".__WILDCARD"

// ContextWildcard is the wire form of a wildcard-context prefix.
const ContextWildcard = ":*:"

// Qualified is a subject name split into its context and bare subject.
type Qualified struct {
	Context string
	Subject string
}

// Parse splits a possibly qualified subject name. `:.ctx:sub` yields
// (".ctx", "sub"); `:*:sub` yields the wildcard context; anything else is a
// bare subject in the default context.
func Parse(subject string) Qualified {
	if strings.HasPrefix(subject, ContextWildcard) {
		return Qualified{Context: WildcardContext, Subject: subject[len(ContextWildcard):]}
	}
	if strings.HasPrefix(subject, ":.") {
		rest := subject[2:]
		if idx := strings.Index(rest, ":"); idx >= 0 {
			return Qualified{Context: NormalizeContext(rest[:idx]), Subject: rest[idx+1:]}
		}
	}
	return Qualified{Context: DefaultContext, Subject: subject}
}

// String renders the wire form. Default-context subjects render bare.
func (q Qualified) String() string {
	if q.Context == DefaultContext || q.Context == "" {
		return q.Subject
	}
	return fmt.Sprintf(":%s:%s", q.Context, q.Subject)
}

// ContextPrefix returns the prefix shared by every subject in q's context,
// usable for range scans and listings.
func (q Qualified) ContextPrefix() string {
	if q.Context == DefaultContext || q.Context == "" {
		return ""
	}
	return fmt.Sprintf(":%s:", q.Context)
}

// ContextOf returns the context a subject name belongs to.
func ContextOf(subject string) string {
	return Parse(subject).Context
}

// Qualify places a bare subject in the given context.
func Qualify(context, bare string) string {
	return Qualified{Context: NormalizeContext(context), Subject: bare}.String()
}

// NormalizeContext brings a context name to display form: a leading dot, and
// the empty name maps to the default context.
func NormalizeContext(name string) string {
	if name == "" || name == DefaultContext {
		return DefaultContext
	}
	if !strings.HasPrefix(name, ".") {
		return "." + name
	}
	return name
}

// IsValidContext reports whether name is a legal context name.
func IsValidContext(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if name == DefaultContext {
		return true
	}
	for _, c := range strings.TrimPrefix(name, ".") {
		if !isWordChar(c) {
			return false
		}
	}
	return true
}

// IsValidSubject reports whether name is a legal (possibly qualified)
// subject name. Control characters are rejected; an empty bare subject is
// legal only when the name carries a context prefix, which context-scoped
// operations use.
func IsValidSubject(name string) bool {
	if name == "" {
		return false
	}
	q := Parse(name)
	if q.Context != DefaultContext && !IsValidContext(q.Context) && q.Context != WildcardContext {
		return false
	}
	for _, c := range q.Subject {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func isWordChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.'
}
