package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// Subject naming for webhook events.
// Follow the pattern: {prefix}.{organization}.{repository}.{event}
const (
	// SubjectPrefix is the first token of every webhook subject.
	SubjectPrefix = "github"

	// SubjectWildcard matches every webhook subject.
	SubjectWildcard = SubjectPrefix + ".>"

	// SubjectPlaceholder replaces a missing organization or repository.
	SubjectPlaceholder = "?"

	// subjectSeparator is the token separator used by the broker.
	subjectSeparator = "."

	// separatorSubstitute stands in for a separator found inside a raw value.
	separatorSubstitute = "~"

	subjectTokens = 4
)

// ErrMalformedSubject is returned when a subject does not have the four
// expected tokens or its event token is empty.
var ErrMalformedSubject = errors.New("malformed subject")

// Subject is the routing key a webhook event is published under.
type Subject struct {
	Prefix       string
	Organization string
	Repository   string
	EventType    string
}

// String joins the tokens with the broker separator.
func (s Subject) String() string {
	return strings.Join([]string{s.Prefix, s.Organization, s.Repository, s.EventType}, subjectSeparator)
}

// SanitizeToken makes a raw value safe to use as a single subject token.
// Empty values become the placeholder and separators become "~". Wildcards and
// whitespace are left alone: the goal is to keep the token count stable, the
// value is never interpreted.
func SanitizeToken(raw string) string {
	if raw == "" {
		return SubjectPlaceholder
	}
	return strings.ReplaceAll(raw, subjectSeparator, separatorSubstitute)
}

// BuildSubject returns the subject for an event from the given organization
// and repository. Identical inputs always produce identical subjects.
func BuildSubject(organization, repository, eventType string) Subject {
	return Subject{
		Prefix:       SubjectPrefix,
		Organization: SanitizeToken(organization),
		Repository:   SanitizeToken(repository),
		EventType:    SanitizeToken(eventType),
	}
}

// SubjectFromPayload extracts the organization and repository from a decoded
// webhook payload and builds the subject.
//
// The organization is repository.owner.login, falling back to
// organization.login for organization-scoped events. Payloads that are not
// JSON objects (arrays, scalars, null) use placeholders for both.
func SubjectFromPayload(payload any, eventType string) Subject {
	var org, repo string

	if obj, ok := payload.(map[string]any); ok {
		repository, _ := obj["repository"].(map[string]any)
		repo = stringField(repository, "name")

		owner, _ := repository["owner"].(map[string]any)
		org = stringField(owner, "login")
		if org == "" {
			organization, _ := obj["organization"].(map[string]any)
			org = stringField(organization, "login")
		}
	}

	return BuildSubject(org, repo, eventType)
}

// ParseSubject splits a published subject back into its first four tokens.
func ParseSubject(subject string) (Subject, error) {
	parts := strings.Split(subject, subjectSeparator)
	if len(parts) < subjectTokens {
		return Subject{}, fmt.Errorf("%w: %q has %d tokens, want %d", ErrMalformedSubject, subject, len(parts), subjectTokens)
	}
	// Extra trailing tokens are tolerated; the event is always the fourth.
	if parts[3] == "" {
		return Subject{}, fmt.Errorf("%w: %q has an empty event token", ErrMalformedSubject, subject)
	}

	return Subject{
		Prefix:       parts[0],
		Organization: parts[1],
		Repository:   parts[2],
		EventType:    parts[3],
	}, nil
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}
