// Package protocol holds the naming rules of the two MediaServer protocol
// generations, the identifier codec that maps catalog identifiers to object
// paths, and the catalog error kinds.
package protocol

import (
	"fmt"
	"strings"

	"github.com/marmos91/mediabus/pkg/property"
)

// Generation selects one of the coexisting protocol generations.
type Generation int

const (
	// V1 is MediaServer1: children are listed through the Items and
	// Containers properties and search is unavailable.
	V1 Generation = 1

	// V2 is MediaServer2: children and search are dedicated methods.
	V2 Generation = 2
)

// Generations lists the supported generations, newest first.
var Generations = []Generation{V2, V1}

// Well-known bus names, interfaces and members.
const (
	PropertiesInterface = "org.freedesktop.DBus.Properties"
	MethodGet           = "Get"
	MethodGetAll        = "GetAll"

	MethodListChildren   = "ListChildren"
	MethodListContainers = "ListContainers"
	MethodListItems      = "ListItems"
	MethodSearchObjects  = "SearchObjects"

	SignalUpdated = "Updated"
)

// ParseGeneration accepts "1", "2", "v1", "v2", "MediaServer1" or
// "MediaServer2" in any case.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "v1", "mediaserver1":
		return V1, nil
	case "2", "v2", "mediaserver2", "":
		return V2, nil
	default:
		return 0, fmt.Errorf("unknown protocol generation %q", s)
	}
}

func (g Generation) String() string {
	return fmt.Sprintf("MediaServer%d", int(g))
}

// Valid reports whether g is a known generation.
func (g Generation) Valid() bool {
	return g == V1 || g == V2
}

// BusPrefix is the bus name prefix providers of this generation own,
// e.g. "org.gnome.UPnP.MediaServer2.".
func (g Generation) BusPrefix() string {
	return "org.gnome.UPnP." + g.String() + "."
}

// PathPrefix is the root of every object path of this generation.
func (g Generation) PathPrefix() string {
	return "/org/gnome/UPnP/" + g.String()
}

// BusName returns the well-known bus name of provider.
func (g Generation) BusName(provider string) string {
	return g.BusPrefix() + provider
}

// ProviderFromBusName extracts the provider name from a bus name of this
// generation.
func (g Generation) ProviderFromBusName(name string) (string, bool) {
	provider, ok := strings.CutPrefix(name, g.BusPrefix())
	if !ok || provider == "" || strings.HasPrefix(provider, "Error.") {
		return "", false
	}
	return provider, true
}

// InterfaceName returns the bus interface name for iface, e.g.
// "org.gnome.UPnP.MediaContainer2".
func (g Generation) InterfaceName(iface property.Interface) string {
	var base string
	switch iface {
	case property.InterfaceObject:
		base = "MediaObject"
	case property.InterfaceItem:
		base = "MediaItem"
	case property.InterfaceContainer:
		base = "MediaContainer"
	default:
		return ""
	}
	return fmt.Sprintf("org.gnome.UPnP.%s%d", base, int(g))
}

// InterfaceFor maps a bus interface name back to a logical interface.
func (g Generation) InterfaceFor(name string) (property.Interface, bool) {
	for _, iface := range property.Interfaces {
		if g.InterfaceName(iface) == name {
			return iface, true
		}
	}
	return 0, false
}

// SupportsListMethods reports whether containers answer ListChildren and
// friends.
func (g Generation) SupportsListMethods() bool { return g >= V2 }

// SupportsSearch reports whether containers answer SearchObjects.
func (g Generation) SupportsSearch() bool { return g >= V2 }

// ErrorPrefix is the prefix of this generation's bus error names.
func (g Generation) ErrorPrefix() string {
	return g.BusPrefix() + errorNameSuffix
}

// ErrorName returns the bus error name for code.
func (g Generation) ErrorName(code ErrorCode) string {
	return g.ErrorPrefix() + code.String()
}

// NewCodec returns a codec rooted at this generation's path prefix.
func (g Generation) NewCodec(interner Interner) *Codec {
	return NewCodec(g.PathPrefix(), interner)
}
