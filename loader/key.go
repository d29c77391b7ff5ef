package loader

import (
	"cmp"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Segment is one kind/identifier pair of a key path.
// Exactly one of Name or ID is set.
type Segment struct {
	Kind string
	Name string
	ID   int64
}

func (s Segment) encode() string {
	if s.Name != "" {
		return url.QueryEscape(s.Kind) + ":" + url.QueryEscape(s.Name)
	}
	return url.QueryEscape(s.Kind) + "#" + strconv.FormatInt(s.ID, 10)
}

// Key identifies one document. Keys are immutable; build them with
// NameKey, IDKey or ParseKey.
type Key struct {
	path    []Segment
	encoded string
}

// NameKey returns a key with a string name, optionally under parent.
func NameKey(kind, name string, parent *Key) *Key {
	return newKey(parent, Segment{Kind: kind, Name: name})
}

// IDKey returns a key with a numeric id, optionally under parent.
func IDKey(kind string, id int64, parent *Key) *Key {
	return newKey(parent, Segment{Kind: kind, ID: id})
}

func newKey(parent *Key, seg Segment) *Key {
	var path []Segment
	if parent != nil {
		path = make([]Segment, 0, len(parent.path)+1)
		path = append(path, parent.path...)
	}
	path = append(path, seg)
	return &Key{path: path, encoded: encodePath(path)}
}

func encodePath(path []Segment) string {
	parts := make([]string, len(path))
	for i, s := range path {
		parts[i] = s.encode()
	}
	return strings.Join(parts, "/")
}

// ParseKey decodes the output of Encode.
func ParseKey(s string) (*Key, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	var k *Key
	for _, part := range strings.Split(s, "/") {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidKey, s, err)
		}
		k = newKey(k, seg)
	}
	return k, nil
}

func parseSegment(part string) (Segment, error) {
	if i := strings.IndexByte(part, ':'); i >= 0 {
		kind, err := url.QueryUnescape(part[:i])
		if err != nil {
			return Segment{}, err
		}
		name, err := url.QueryUnescape(part[i+1:])
		if err != nil {
			return Segment{}, err
		}
		if kind == "" || name == "" {
			return Segment{}, fmt.Errorf("segment %q: missing kind or name", part)
		}
		return Segment{Kind: kind, Name: name}, nil
	}
	if i := strings.IndexByte(part, '#'); i >= 0 {
		kind, err := url.QueryUnescape(part[:i])
		if err != nil {
			return Segment{}, err
		}
		id, err := strconv.ParseInt(part[i+1:], 10, 64)
		if err != nil {
			return Segment{}, fmt.Errorf("segment %q: %w", part, err)
		}
		if kind == "" || id == 0 {
			return Segment{}, fmt.Errorf("segment %q: missing kind or id", part)
		}
		return Segment{Kind: kind, ID: id}, nil
	}
	return Segment{}, fmt.Errorf("segment %q: no separator", part)
}

// Kind returns the kind of the last path segment.
func (k *Key) Kind() string { return k.path[len(k.path)-1].Kind }

// Name returns the string name of the last segment, or "".
func (k *Key) Name() string { return k.path[len(k.path)-1].Name }

// ID returns the numeric id of the last segment, or 0.
func (k *Key) ID() int64 { return k.path[len(k.path)-1].ID }

// Parent returns the key without its last segment, or nil for root keys.
func (k *Key) Parent() *Key {
	if len(k.path) < 2 {
		return nil
	}
	path := make([]Segment, len(k.path)-1)
	copy(path, k.path)
	return &Key{path: path, encoded: encodePath(path)}
}

// Root returns the key of the first path segment. For root keys it
// returns k.
func (k *Key) Root() *Key {
	if len(k.path) == 1 {
		return k
	}
	path := []Segment{k.path[0]}
	return &Key{path: path, encoded: encodePath(path)}
}

// Path returns a copy of the key's segments, root first.
func (k *Key) Path() []Segment {
	out := make([]Segment, len(k.path))
	copy(out, k.path)
	return out
}

// Leaf returns the last path segment.
func (k *Key) Leaf() Segment { return k.path[len(k.path)-1] }

// Encode returns the canonical string form used as cache identity.
func (k *Key) Encode() string { return k.encoded }

func (k *Key) String() string { return k.encoded }

// MarshalText implements encoding.TextMarshaler with the Encode form.
func (k *Key) MarshalText() ([]byte, error) { return []byte(k.encoded), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = *parsed
	return nil
}

// Equal reports whether both keys have the same segments.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	if len(k.path) != len(other.path) {
		return false
	}
	for i := range k.path {
		if k.path[i] != other.path[i] {
			return false
		}
	}
	return true
}

// Compare orders keys segment by segment. Within a segment kinds compare
// lexically, numeric IDs sort before names, IDs compare as numbers and
// names lexically. A key sorts before its descendants.
func (k *Key) Compare(other *Key) int {
	n := min(len(k.path), len(other.path))
	for i := 0; i < n; i++ {
		if c := compareSegments(k.path[i], other.path[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(k.path), len(other.path))
}

func compareSegments(a, b Segment) int {
	if c := strings.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	switch {
	case a.Name == "" && b.Name == "":
		return cmp.Compare(a.ID, b.ID)
	case a.Name == "":
		return -1
	case b.Name == "":
		return 1
	}
	return strings.Compare(a.Name, b.Name)
}

// HasAncestor reports whether ancestor is a proper prefix of k or equal to it.
func (k *Key) HasAncestor(ancestor *Key) bool {
	if ancestor == nil || len(ancestor.path) > len(k.path) {
		return false
	}
	for i := range ancestor.path {
		if k.path[i] != ancestor.path[i] {
			return false
		}
	}
	return true
}

func (k *Key) valid() bool {
	if k == nil || len(k.path) == 0 {
		return false
	}
	for _, s := range k.path {
		if s.Kind == "" || (s.Name == "") == (s.ID == 0) {
			return false
		}
	}
	return true
}
