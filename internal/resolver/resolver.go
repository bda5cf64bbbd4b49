// Package resolver maps request paths for compiled scripts onto the source
// files they are compiled from.
//
// A request for jsPrefix/<name>.js resolves to sourcePrefix/<name>.coffee.
// <name> may contain slashes, so nested directories map one to one.
package resolver

import "strings"

const (
	// DefaultJSPrefix is the request root for compilable resources.
	DefaultJSPrefix = "/js"
	// DefaultSourcePrefix is the root the sources live under.
	DefaultSourcePrefix = "/WEB-INF/coffee"

	scriptExt = ".js"
	sourceExt = ".coffee"
)

// Resolve maps requestPath to a source key. It reports false when the path
// is not a compilable resource; that is a normal outcome and the caller
// should pass the request through untouched.
func Resolve(requestPath, jsPrefix, sourcePrefix string) (string, bool) {
	root := trimSlash(jsPrefix) + "/"
	if !strings.HasPrefix(requestPath, root) {
		return "", false
	}

	rest := requestPath[len(root):]
	if !strings.HasSuffix(rest, scriptExt) {
		return "", false
	}

	name := strings.TrimSuffix(rest, scriptExt)
	if name == "" {
		return "", false
	}

	return trimSlash(sourcePrefix) + "/" + name + sourceExt, true
}

// Resolver bundles the configured prefixes.
type Resolver struct {
	jsPrefix     string
	sourcePrefix string
}

// New creates a resolver. Empty prefixes fall back to the defaults.
func New(jsPrefix, sourcePrefix string) *Resolver {
	if jsPrefix == "" {
		jsPrefix = DefaultJSPrefix
	}
	if sourcePrefix == "" {
		sourcePrefix = DefaultSourcePrefix
	}
	return &Resolver{
		jsPrefix:     trimSlash(jsPrefix),
		sourcePrefix: trimSlash(sourcePrefix),
	}
}

// Resolve maps a request path using the configured prefixes.
func (r *Resolver) Resolve(requestPath string) (string, bool) {
	return Resolve(requestPath, r.jsPrefix, r.sourcePrefix)
}

// RequestPath is the inverse of Resolve: it returns the request path served
// for a source key, or false when the key is outside the source prefix.
func (r *Resolver) RequestPath(sourceKey string) (string, bool) {
	root := r.sourcePrefix + "/"
	if !strings.HasPrefix(sourceKey, root) || !strings.HasSuffix(sourceKey, sourceExt) {
		return "", false
	}
	name := strings.TrimSuffix(sourceKey[len(root):], sourceExt)
	if name == "" {
		return "", false
	}
	return r.jsPrefix + "/" + name + scriptExt, true
}

// JSPrefix returns the configured request prefix.
func (r *Resolver) JSPrefix() string { return r.jsPrefix }

// SourcePrefix returns the configured source prefix.
func (r *Resolver) SourcePrefix() string { return r.sourcePrefix }

func trimSlash(prefix string) string {
	return strings.TrimRight(prefix, "/")
}
