package protocol

import (
	"strconv"
	"strings"
)

// Path segments that classify a non-root object.
const (
	segmentContainers = "containers"
	segmentItems      = "items"
)

// Codec translates catalog identifiers to object paths and back.
//
// The root identifier "" maps to <prefix>/<provider>. Any other identifier
// maps to <prefix>/<provider>/containers/<n> or <prefix>/<provider>/items/<n>
// where n is the identifier's number in the interner. The interner is shared
// by every provider served through the codec, so one identifier has one
// number per codec regardless of provider.
type Codec struct {
	prefix   string
	interner Interner
}

// NewCodec creates a codec for paths under prefix.
func NewCodec(prefix string, interner Interner) *Codec {
	if interner == nil {
		interner = NewSequentialInterner()
	}
	return &Codec{prefix: strings.TrimSuffix(prefix, "/"), interner: interner}
}

// Prefix returns the path prefix.
func (c *Codec) Prefix() string { return c.prefix }

// Interner returns the codec's interner.
func (c *Codec) Interner() Interner { return c.interner }

// Encode returns the object path of id under provider.
func (c *Codec) Encode(provider, id string, container bool) string {
	root := c.prefix + "/" + provider
	if id == "" {
		return root
	}
	segment := segmentItems
	if container {
		segment = segmentContainers
	}
	return root + "/" + segment + "/" + strconv.FormatUint(c.interner.Intern(id), 10)
}

// Decode returns the provider and identifier a path names.
func (c *Codec) Decode(path string) (provider, id string, err error) {
	ref, err := c.DecodeObject(path)
	if err != nil {
		return "", "", err
	}
	return ref.Provider, ref.ID, nil
}

// DecodeObject decodes path fully, including its container classification.
func (c *Codec) DecodeObject(path string) (ObjectRef, error) {
	ref, err := ParsePath(c.prefix, path)
	if err != nil {
		return ObjectRef{}, err
	}
	if ref.Root {
		return ref, nil
	}
	id, ok := c.interner.Lookup(ref.Number)
	if !ok {
		return ObjectRef{}, InvalidPathError(path, "unknown object number")
	}
	ref.ID = id
	return ref, nil
}

// ObjectRef is the structural content of an object path.
type ObjectRef struct {
	Provider  string
	ID        string
	Number    uint64
	Container bool
	Root      bool
}

// ParsePath splits path into its structural parts without consulting an
// interner, so ID is left empty for non-root objects. Clients use it to learn
// the provider and class of a path they received from a server.
func ParsePath(prefix, path string) (ObjectRef, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	rest, ok := strings.CutPrefix(path, prefix+"/")
	if !ok {
		return ObjectRef{}, InvalidPathError(path, "wrong prefix")
	}

	segments := strings.Split(rest, "/")
	if segments[0] == "" {
		return ObjectRef{}, InvalidPathError(path, "empty provider")
	}
	ref := ObjectRef{Provider: segments[0]}

	switch len(segments) {
	case 1:
		ref.Root = true
		ref.Container = true
		return ref, nil
	case 3:
	default:
		return ObjectRef{}, InvalidPathError(path, "wrong segment count")
	}

	switch segments[1] {
	case segmentContainers:
		ref.Container = true
	case segmentItems:
	default:
		return ObjectRef{}, InvalidPathError(path, "unknown object class "+strconv.Quote(segments[1]))
	}

	n, err := strconv.ParseUint(segments[2], 10, 64)
	if err != nil {
		return ObjectRef{}, InvalidPathError(path, "bad object number")
	}
	ref.Number = n
	return ref, nil
}

// IsContainerPath reports whether path names a container (or a provider root).
func IsContainerPath(prefix, path string) bool {
	ref, err := ParsePath(prefix, path)
	return err == nil && ref.Container
}
