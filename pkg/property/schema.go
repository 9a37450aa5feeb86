package property

import (
	"slices"
	"strings"
)

// Name is a property name from the fixed vocabulary.
type Name string

// Object interface properties.
const (
	DisplayName Name = "DisplayName"
	Parent      Name = "Parent"
	Path        Name = "Path"
	Type        Name = "Type"
)

// Item interface properties.
const (
	MIMEType      Name = "MIMEType"
	Artist        Name = "Artist"
	Album         Name = "Album"
	Date          Name = "Date"
	Genre         Name = "Genre"
	DLNAProfile   Name = "DLNAProfile"
	Thumbnail     Name = "Thumbnail"
	AlbumArt      Name = "AlbumArt"
	Size          Name = "Size"
	Duration      Name = "Duration"
	Bitrate       Name = "Bitrate"
	SampleRate    Name = "SampleRate"
	BitsPerSample Name = "BitsPerSample"
	Width         Name = "Width"
	Height        Name = "Height"
	ColorDepth    Name = "ColorDepth"
	PixelWidth    Name = "PixelWidth"
	PixelHeight   Name = "PixelHeight"
	URLs          Name = "URLs"
)

// Container interface properties.
const (
	ChildCount     Name = "ChildCount"
	Items          Name = "Items"
	ItemCount      Name = "ItemCount"
	Containers     Name = "Containers"
	ContainerCount Name = "ContainerCount"
	Searchable     Name = "Searchable"
)

// Type values used by the catalog.
const (
	TypeContainer = "container"
	TypeItem      = "item"
	TypeMusic     = "music"
	TypeAudio     = "audio"
	TypeVideo     = "video"
	TypeImage     = "image"
)

// Interface is one of the three logical interfaces a property belongs to.
type Interface int

const (
	InterfaceObject Interface = iota
	InterfaceItem
	InterfaceContainer
)

// Interfaces lists every interface in declaration order.
var Interfaces = []Interface{InterfaceObject, InterfaceItem, InterfaceContainer}

func (i Interface) String() string {
	switch i {
	case InterfaceObject:
		return "object"
	case InterfaceItem:
		return "item"
	case InterfaceContainer:
		return "container"
	default:
		return "unknown"
	}
}

// AppliesTo reports whether objects of the given class expose interface i.
// The object interface applies to every object; item and container
// interfaces apply only to their own class.
func (i Interface) AppliesTo(container bool) bool {
	switch i {
	case InterfaceObject:
		return true
	case InterfaceItem:
		return !container
	case InterfaceContainer:
		return container
	default:
		return false
	}
}

// Spec describes one entry of the schema.
type Spec struct {
	Name      Name
	Interface Interface
	Kind      Kind
}

// schema is the static vocabulary in declaration order. Replies to an
// all-properties request list keys in this order.
var schema = []Spec{
	{DisplayName, InterfaceObject, KindString},
	{Parent, InterfaceObject, KindString},
	{Path, InterfaceObject, KindString},
	{Type, InterfaceObject, KindString},

	{MIMEType, InterfaceItem, KindString},
	{Artist, InterfaceItem, KindString},
	{Album, InterfaceItem, KindString},
	{Date, InterfaceItem, KindString},
	{Genre, InterfaceItem, KindString},
	{DLNAProfile, InterfaceItem, KindString},
	{Thumbnail, InterfaceItem, KindString},
	{AlbumArt, InterfaceItem, KindString},
	{Size, InterfaceItem, KindInt},
	{Duration, InterfaceItem, KindInt},
	{Bitrate, InterfaceItem, KindInt},
	{SampleRate, InterfaceItem, KindInt},
	{BitsPerSample, InterfaceItem, KindInt},
	{Width, InterfaceItem, KindInt},
	{Height, InterfaceItem, KindInt},
	{ColorDepth, InterfaceItem, KindInt},
	{PixelWidth, InterfaceItem, KindInt},
	{PixelHeight, InterfaceItem, KindInt},
	{URLs, InterfaceItem, KindStringList},

	{ChildCount, InterfaceContainer, KindUInt},
	{Items, InterfaceContainer, KindStringList},
	{ItemCount, InterfaceContainer, KindUInt},
	{Containers, InterfaceContainer, KindStringList},
	{ContainerCount, InterfaceContainer, KindUInt},
	{Searchable, InterfaceContainer, KindBool},
}

var (
	byName  = make(map[Name]Spec, len(schema))
	byIface = make(map[Interface][]Name, len(Interfaces))
	order   = make(map[Name]int, len(schema))
)

func init() {
	for i, spec := range schema {
		byName[spec.Name] = spec
		byIface[spec.Interface] = append(byIface[spec.Interface], spec.Name)
		order[spec.Name] = i
	}
}

// Lookup returns the schema entry for name.
func Lookup(name Name) (Spec, bool) {
	spec, ok := byName[name]
	return spec, ok
}

// Known reports whether name is part of the vocabulary.
func Known(name Name) bool {
	_, ok := byName[name]
	return ok
}

// KindOf returns the value kind of name.
func KindOf(name Name) (Kind, bool) {
	spec, ok := byName[name]
	return spec.Kind, ok
}

// InterfaceOf returns the interface name belongs to.
func InterfaceOf(name Name) (Interface, bool) {
	spec, ok := byName[name]
	return spec.Interface, ok
}

// PropertiesOf returns the names belonging to iface in schema order.
func PropertiesOf(iface Interface) []Name {
	names := byIface[iface]
	out := make([]Name, len(names))
	copy(out, names)
	return out
}

// All returns the full vocabulary in schema order.
func All() []Name {
	out := make([]Name, 0, len(schema))
	for _, spec := range schema {
		out = append(out, spec.Name)
	}
	return out
}

// IsValid reports whether name is a valid property. With a nil iface, name
// is valid when it belongs to any interface; otherwise it must belong to
// exactly *iface.
func IsValid(iface *Interface, name Name) bool {
	spec, ok := byName[name]
	if !ok {
		return false
	}
	if iface == nil {
		return true
	}
	return spec.Interface == *iface
}

// Default returns the absent-value default for name. Identifier-derived
// properties (Path, Parent) have no default and report false.
func Default(name Name) (Value, bool) {
	if name == Path || name == Parent {
		return Value{}, false
	}
	spec, ok := byName[name]
	if !ok {
		return Value{}, false
	}
	return DefaultFor(spec.Kind), true
}

// ParseName resolves a user-supplied property name, matching exactly first
// and then case-insensitively.
func ParseName(s string) (Name, bool) {
	if _, ok := byName[Name(s)]; ok {
		return Name(s), true
	}
	for _, spec := range schema {
		if strings.EqualFold(string(spec.Name), s) {
			return spec.Name, true
		}
	}
	return "", false
}

// SortNames orders names by their schema position; unknown names sort last
// in their original relative order.
func SortNames(names []Name) {
	pos := func(n Name) int {
		if p, ok := order[n]; ok {
			return p
		}
		return len(schema)
	}
	slices.SortStableFunc(names, func(a, b Name) int {
		return pos(a) - pos(b)
	})
}
