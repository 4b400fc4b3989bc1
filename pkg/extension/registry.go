package extension

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CatchAll is the reserved bucket for extensions registering an empty
// prefix; it is consulted after the named prefix list is exhausted.
const CatchAll = "*"

// ErrAnonymous is returned by Remove for extensions with no identity.
var ErrAnonymous = errors.New("Anonymous extensions cannot be removed")

// Registry maps reference prefixes to their extensions in insertion
// order and dispatches read/write messages through them.
type Registry struct {
	version  int
	debug    bool
	byPrefix map[string][]Extension
}

// NewRegistry creates an empty registry that registers extensions
// against the given engine version.
func NewRegistry(version int, debug bool) *Registry {
	return &Registry{
		version:  version,
		debug:    debug,
		byPrefix: make(map[string][]Extension),
	}
}

// Add runs the registration handshake. It returns false when the
// extension declines, or when an identifiable extension with the same
// identity is already registered.
func (r *Registry) Add(ext Extension) bool {
	if ident, ok := ext.(Identifiable); ok && r.has(ident.ID()) {
		return false
	}

	prefix, ok := ext.Register(r.version, r.debug)
	if !ok {
		return false
	}
	if prefix == "" {
		prefix = CatchAll
	}
	prefix = strings.ToLower(prefix)
	r.byPrefix[prefix] = append(r.byPrefix[prefix], ext)
	return true
}

func (r *Registry) has(id string) bool {
	for _, list := range r.byPrefix {
		for _, e := range list {
			if ident, ok := e.(Identifiable); ok && ident.ID() == id {
				return true
			}
		}
	}
	return false
}

// Remove takes out every registered extension sharing the identity of
// ext. Anonymous extensions cannot be removed selectively; the host has
// to remove all and re-add.
func (r *Registry) Remove(ext Extension) (bool, error) {
	ident, ok := ext.(Identifiable)
	if !ok {
		return false, ErrAnonymous
	}

	removed := false
	for prefix, list := range r.byPrefix {
		for i := len(list) - 1; i >= 0; i-- {
			if other, ok := list[i].(Identifiable); ok && other.ID() == ident.ID() {
				list = append(list[:i], list[i+1:]...)
				removed = true
			}
		}
		if len(list) == 0 {
			delete(r.byPrefix, prefix)
		} else {
			r.byPrefix[prefix] = list
		}
	}
	return removed, nil
}

// ResetAll fans the engine reset out to every extension.
func (r *Registry) ResetAll() {
	for _, list := range r.byPrefix {
		for _, e := range list {
			e.Reset()
		}
	}
}

// Prefixes lists the registered prefixes, sorted, minus any excluded
// names (the engine hides its built-in prefix from .kat headers).
func (r *Registry) Prefixes(exclude ...string) []string {
	out := make([]string, 0, len(r.byPrefix))
	for prefix := range r.byPrefix {
		skip := false
		for _, x := range exclude {
			if prefix == x {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, prefix)
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch resolves a reference. The prefix (everything before the first
// dot, lowercased) selects the extension list; each extension sees the
// message in insertion order until one handles it. An exhausted list
// falls through to the catch-all bucket.
func (r *Registry) Dispatch(mt MessageType, name, value string) (string, error) {
	prefix := strings.ToLower(name)
	if i := strings.Index(prefix, "."); i >= 0 {
		prefix = prefix[:i]
	}

	msg := &Message{Type: mt, Name: name, Value: value}

	if handled, v, err := dispatchList(r.byPrefix[prefix], msg); handled {
		return v, err
	}
	if prefix != CatchAll {
		if handled, v, err := dispatchList(r.byPrefix[CatchAll], msg); handled {
			return v, err
		}
	}
	return "", fmt.Errorf("Reference not found: %s", name)
}

func dispatchList(list []Extension, msg *Message) (bool, string, error) {
	for _, ext := range list {
		msg = ext.Handle(msg)
		switch msg.Result {
		case Ignored:
			continue
		case HandledOkay:
			return true, msg.Value, nil
		case HandledFail:
			if msg.Value == "" {
				return true, "", errors.New("Extension is broken (no error message given)")
			}
			return true, "", errors.New(msg.Value)
		default:
			return true, "", errors.New("Extension is broken (invalid result value)")
		}
	}
	return false, "", nil
}
