package datastore

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
)

const (
	fieldSep   = "\x1f"
	elementSep = "\x1e"
)

// ErrInvalidKey is returned when a websafe key cannot be decoded.
var ErrInvalidKey = apperr.New(apperr.InvalidArgument, "invalid key")

// Key identifies an entity: a kind, either an integer id or a string name, and an
// optional parent. Entities sharing a root ancestor form one entity group.
type Key struct {
	kind   string
	id     int64
	name   string
	parent *Key
}

// NewIDKey returns a key with an integer id.
func NewIDKey(kind string, id int64, parent *Key) *Key {
	return &Key{kind: kind, id: id, parent: parent}
}

// NewNameKey returns a key with a string name.
func NewNameKey(kind, name string, parent *Key) *Key {
	return &Key{kind: kind, name: name, parent: parent}
}

// Kind returns the entity kind.
func (k *Key) Kind() string { return k.kind }

// ID returns the integer id, or 0 for a named key.
func (k *Key) ID() int64 { return k.id }

// Name returns the string name, or "" for an id key.
func (k *Key) Name() string { return k.name }

// Parent returns the parent key, nil for a root key.
func (k *Key) Parent() *Key { return k.parent }

// Root returns the top-most ancestor of k, or k itself.
func (k *Key) Root() *Key {
	r := k
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Incomplete reports whether the key has neither id nor name.
func (k *Key) Incomplete() bool { return k.id == 0 && k.name == "" }

// Path is the canonical encoding of k, root first. Two keys are equal iff their
// paths are equal, and a descendant's path has its ancestor's path as prefix.
func (k *Key) Path() string {
	var b strings.Builder
	k.writePath(&b)
	return b.String()
}

func (k *Key) writePath(b *strings.Builder) {
	if k.parent != nil {
		k.parent.writePath(b)
		b.WriteString(elementSep)
	}
	b.WriteString(k.kind)
	b.WriteString(fieldSep)
	if k.name != "" {
		b.WriteByte('s')
		b.WriteString(k.name)
	} else {
		b.WriteByte('i')
		b.WriteString(strconv.FormatInt(k.id, 10))
	}
}

// DescendantPrefix is the path prefix shared by every strict descendant of k.
func DescendantPrefix(k *Key) string { return k.Path() + elementSep }

// Equal reports whether k and o identify the same entity.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.Path() == o.Path()
}

// HasAncestor reports whether a is k or one of k's ancestors.
func (k *Key) HasAncestor(a *Key) bool {
	for c := k; c != nil; c = c.parent {
		if c.Equal(a) {
			return true
		}
	}
	return false
}

// SameGroup reports whether k and o share a root ancestor.
func (k *Key) SameGroup(o *Key) bool {
	return k.Root().Equal(o.Root())
}

// Encode returns the websafe form of k.
func (k *Key) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(k.Path()))
}

func (k *Key) String() string {
	return strings.NewReplacer(fieldSep, ":", elementSep, "/").Replace(k.Path())
}

// DecodeKey parses a websafe key produced by Encode.
func DecodeKey(websafe string) (*Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(websafe)
	if err != nil {
		return nil, ErrInvalidKey.WithDetail("%q", websafe)
	}
	return ParsePath(string(raw))
}

// ParsePath parses a canonical key path.
func ParsePath(path string) (*Key, error) {
	if path == "" {
		return nil, ErrInvalidKey.WithDetail("empty path")
	}
	var parent *Key
	for _, elem := range strings.Split(path, elementSep) {
		kind, val, ok := strings.Cut(elem, fieldSep)
		if !ok || kind == "" || val == "" {
			return nil, ErrInvalidKey.WithDetail("malformed element %q", elem)
		}
		switch val[0] {
		case 's':
			if len(val) == 1 {
				return nil, ErrInvalidKey.WithDetail("empty name in %q", elem)
			}
			parent = NewNameKey(kind, val[1:], parent)
		case 'i':
			id, err := strconv.ParseInt(val[1:], 10, 64)
			if err != nil || id <= 0 {
				return nil, ErrInvalidKey.WithDetail("bad id in %q", elem)
			}
			parent = NewIDKey(kind, id, parent)
		default:
			return nil, ErrInvalidKey.WithDetail("unknown id type in %q", elem)
		}
	}
	return parent, nil
}

// validate rejects keys that cannot be stored.
func (k *Key) validate() error {
	for c := k; c != nil; c = c.parent {
		if c.kind == "" || c.Incomplete() {
			return ErrInvalidKey.WithDetail("incomplete key %s", k)
		}
		if strings.ContainsAny(c.kind+c.name, fieldSep+elementSep) {
			return ErrInvalidKey.WithDetail("reserved separator in %q", c.kind+c.name)
		}
	}
	return nil
}
