// Package resolver turns arbitrary scanned text into a canonical booth reference.
//
// Resolution is an ordered chain of pure matchers. The first matcher that
// claims the input wins. No network or storage access happens here.
package resolver

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/okian/timebank/internal/domain/model"
)

// ErrUnrecognized is returned when no matcher can interpret the input.
var ErrUnrecognized = errors.New("unrecognized scan input")

// Matcher inspects trimmed input and reports whether it produced a target.
type Matcher interface {
	Match(raw string) (model.Target, bool)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(raw string) (model.Target, bool)

// Match implements Matcher.
func (f MatcherFunc) Match(raw string) (model.Target, bool) { return f(raw) }

// Resolver applies matchers in order.
type Resolver struct {
	matchers []Matcher
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithMatchers replaces the default chain.
func WithMatchers(m ...Matcher) Option {
	return func(r *Resolver) {
		if len(m) > 0 {
			r.matchers = m
		}
	}
}

// New returns a Resolver using the default chain: private scheme, booth-id
// prefix, web link, then opaque code.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		matchers: []Matcher{
			MatcherFunc(MatchPrivateScheme),
			MatcherFunc(MatchBoothPrefix),
			MatcherFunc(MatchWebLink),
			MatcherFunc(MatchOpaqueCode),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the canonical target for rawText.
func (r *Resolver) Resolve(rawText string) (model.Target, error) {
	raw := strings.TrimSpace(rawText)
	if raw == "" {
		return model.Target{}, ErrUnrecognized
	}
	for _, m := range r.matchers {
		if t, ok := m.Match(raw); ok {
			if t.IsZero() {
				return model.Target{}, ErrUnrecognized
			}
			return t, nil
		}
	}
	return model.Target{}, ErrUnrecognized
}

// Resolve runs the default chain.
func Resolve(rawText string) (model.Target, error) {
	return defaultResolver.Resolve(rawText)
}

var defaultResolver = New()

// boothIDPrefixes mark inputs that already are booth ids.
var boothIDPrefixes = []string{"booth-", "booth_"}

// MatchPrivateScheme handles scheme://booth/<id>?k=<kind>&amt=<n>. Any
// non-web scheme is claimed; inputs that do not have the booth shape resolve
// to an empty target so the chain reports them as unrecognized. Embedded
// kind and amount are never trusted and are dropped here.
func MatchPrivateScheme(raw string) (model.Target, bool) {
	scheme, _, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" || isWebScheme(scheme) || !validScheme(scheme) {
		return model.Target{}, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return model.Target{}, true
	}
	if !strings.EqualFold(u.Host, "booth") {
		return model.Target{}, true
	}
	id := strings.Trim(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return model.Target{}, true
	}
	return model.ByBoothID(id), true
}

// MatchBoothPrefix treats booth-/booth_ prefixed input as a booth id verbatim.
func MatchBoothPrefix(raw string) (model.Target, bool) {
	lower := strings.ToLower(raw)
	for _, p := range boothIDPrefixes {
		if strings.HasPrefix(lower, p) && len(raw) > len(p) {
			return model.ByBoothID(raw), true
		}
	}
	return model.Target{}, false
}

// MatchWebLink handles absolute http(s) URLs. Explicit query parameters win,
// then known path shapes. Anything else falls back to the whole URL as an
// opaque code; ingestion may then fail to find it, which is intended.
func MatchWebLink(raw string) (model.Target, bool) {
	scheme, _, ok := strings.Cut(raw, "://")
	if !ok || !isWebScheme(scheme) {
		return model.Target{}, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return model.ByBoothCode(raw), true
	}

	q := u.Query()
	if id := firstParam(q, "b", "booth_id"); id != "" {
		return model.ByBoothID(id), true
	}
	if code := firstParam(q, "code", "c"); code != "" {
		return model.ByBoothCode(code), true
	}

	if t, ok := matchPath(u.EscapedPath()); ok {
		return t, true
	}
	return model.ByBoothCode(raw), true
}

// MatchOpaqueCode is the terminal matcher.
func MatchOpaqueCode(raw string) (model.Target, bool) {
	return model.ByBoothCode(raw), true
}

// pathShapes maps a leading path segment to the target kind of the segment after it.
var pathShapes = map[string]model.TargetKind{
	"scan":  model.TargetBoothCode,
	"s":     model.TargetBoothCode,
	"booth": model.TargetBoothID,
}

func matchPath(p string) (model.Target, bool) {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		return model.Target{}, false
	}
	segs := strings.Split(clean, "/")
	if len(segs) < 2 {
		return model.Target{}, false
	}
	kind, ok := pathShapes[strings.ToLower(segs[len(segs)-2])]
	if !ok {
		return model.Target{}, false
	}
	slug, err := url.PathUnescape(segs[len(segs)-1])
	if err != nil || slug == "" {
		return model.Target{}, false
	}
	if kind == model.TargetBoothID {
		return model.ByBoothID(slug), true
	}
	return model.ByBoothCode(slug), true
}

func firstParam(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func isWebScheme(s string) bool {
	return strings.EqualFold(s, "http") || strings.EqualFold(s, "https")
}

// validScheme follows RFC 3986: ALPHA *( ALPHA / DIGIT / "+" / "-" / "." ).
func validScheme(s string) bool {
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
