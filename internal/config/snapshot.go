package config

import (
	"fmt"
	"os"
	"strings"
)

// Builtins are the non-section reference values a Snapshot resolves
// directly: {svcname}, {clusternodes}, {clusterdrpnodes}. {nodename} is
// taken from the ResolveContext instead.
type Builtins struct {
	Svcname         string
	ClusterNodes    []string
	ClusterDrpNodes []string
}

const maxInterpolationDepth = 8

// Snapshot is an immutable, frozen view of a Document plus the registry and
// builtins needed to evaluate it. A read against a Snapshot never observes
// a concurrent write: Config.SetMulti publishes a new Snapshot atomically
// instead of mutating this one.
type Snapshot struct {
	doc      *Document
	registry *Registry
	builtins Builtins
	envLookup func(string) (string, bool)
}

// NewSnapshot freezes a Document against a Registry and Builtins.
func NewSnapshot(doc *Document, registry *Registry, builtins Builtins) *Snapshot {
	return &Snapshot{doc: doc, registry: registry, builtins: builtins, envLookup: os.LookupEnv}
}

// Document exposes the underlying, already-frozen document (read-only use).
func (s *Snapshot) Document() *Document { return s.doc }

// Get resolves section.key for ctx, converts it through the keyword's
// converter, and — unless evaluate is false or the result isn't a string —
// performs reference interpolation.
func (s *Snapshot) Get(section, key string, ctx ResolveContext, evaluate bool) (interface{}, error) {
	raw, meta, err := s.getRaw(section, key, ctx)
	if err != nil {
		return nil, err
	}
	val, convErr := meta.Convert(raw)
	if convErr != nil {
		return nil, convErr
	}
	if !evaluate {
		return val, nil
	}
	if str, ok := val.(string); ok {
		expanded, err := s.expand(str, ctx, 0, map[string]bool{})
		if err != nil {
			return nil, err
		}
		return expanded, nil
	}
	if list, ok := val.([]string); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			e, err := s.expand(item, ctx, 0, map[string]bool{})
			if err != nil {
				return nil, err
			}
			if meta.Converter == ConvShlex {
				out = append(out, e)
				continue
			}
			// an item such as {clusternodes} may expand to several words
			out = append(out, splitList(e)...)
		}
		return out, nil
	}
	return val, nil
}

// GetString is a convenience wrapper for callers that know the keyword
// converts to a scalar string.
func (s *Snapshot) GetString(section, key string, ctx ResolveContext) (string, error) {
	v, err := s.Get(section, key, ctx, true)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", &ConfigError{Op: "get", Detail: fmt.Sprintf("%s.%s: not a string value", section, key)}
	}
	return str, nil
}

func (s *Snapshot) getRaw(section, key string, ctx ResolveContext) (string, KeywordMeta, error) {
	sectionType := SectionType(section)
	meta, hasMeta := s.registry.Lookup(sectionType, key)

	body := s.doc.Body(section)
	raw, ok := resolveRaw(body, key, ctx)
	if ok {
		return raw, meta, nil
	}
	if hasMeta {
		if meta.Default != "" {
			return meta.Default, meta, nil
		}
		if meta.Required {
			return "", meta, &MissingKeyError{Section: section, Keyword: key}
		}
	}
	return "", meta, &ConfigError{Op: "get", Detail: fmt.Sprintf("%s.%s: no value and no default", section, key)}
}

// expand performs recursive {x.y}/{svcname}/{clusternodes}/{clusterdrpnodes}
// /{nodename}/{env:VAR} interpolation with cycle detection via the visited
// set and a hard recursion-depth cap.
func (s *Snapshot) expand(raw string, ctx ResolveContext, depth int, visiting map[string]bool) (string, error) {
	if depth > maxInterpolationDepth {
		return "", &ConfigError{Op: "interpolate", Detail: fmt.Sprintf("max recursion depth exceeded expanding %q", raw)}
	}
	var out strings.Builder
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c != '{' {
			out.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(raw[i:], '}')
		if end < 0 {
			out.WriteString(raw[i:])
			break
		}
		token := raw[i+1 : i+end]
		i += end + 1

		resolved, err := s.resolveToken(token, ctx, depth, visiting)
		if err != nil {
			return "", err
		}
		out.WriteString(resolved)
	}
	return out.String(), nil
}

func (s *Snapshot) resolveToken(token string, ctx ResolveContext, depth int, visiting map[string]bool) (string, error) {
	switch {
	case token == "svcname":
		return s.builtins.Svcname, nil
	case token == "nodename":
		return ctx.NodeName, nil
	case token == "clusternodes":
		return strings.Join(s.builtins.ClusterNodes, " "), nil
	case token == "clusterdrpnodes":
		return strings.Join(s.builtins.ClusterDrpNodes, " "), nil
	case strings.HasPrefix(token, "env:"):
		name := token[len("env:"):]
		if v, ok := s.envLookup(name); ok {
			return v, nil
		}
		return "", nil
	default:
		parts := strings.SplitN(token, ".", 2)
		if len(parts) != 2 {
			return "", &ConfigError{Op: "interpolate", Detail: fmt.Sprintf("unrecognized reference {%s}", token)}
		}
		section, key := parts[0], parts[1]
		cycleKey := section + "." + key
		if visiting[cycleKey] {
			return "", &ConfigError{Op: "interpolate", Detail: fmt.Sprintf("reference cycle detected at {%s}", token)}
		}
		raw, meta, err := s.getRaw(section, key, ctx)
		if err != nil {
			return "", err
		}
		converted, err := meta.Convert(raw)
		if err != nil {
			return "", err
		}
		str, ok := converted.(string)
		if !ok {
			str = fmt.Sprintf("%v", converted)
		}
		visiting[cycleKey] = true
		expanded, err := s.expand(str, ctx, depth+1, visiting)
		delete(visiting, cycleKey)
		return expanded, err
	}
}
