package property

// Partitions holds a request split by interface. Each sublist preserves the
// relative order of the names it received; duplicates are kept.
type Partitions struct {
	byIface [3][]Name

	// Dropped lists the names that were not part of the vocabulary.
	Dropped []Name
}

// Partition splits names into per-interface sublists using the schema.
// Unknown names are dropped and reported in Dropped.
func Partition(names []Name) Partitions {
	var p Partitions
	for _, name := range names {
		iface, ok := InterfaceOf(name)
		if !ok {
			p.Dropped = append(p.Dropped, name)
			continue
		}
		p.byIface[iface] = append(p.byIface[iface], name)
	}
	return p
}

// For returns the sublist for iface. The result must not be modified.
func (p Partitions) For(iface Interface) []Name {
	if iface < 0 || int(iface) >= len(p.byIface) {
		return nil
	}
	return p.byIface[iface]
}

// Only returns a copy of p keeping the interfaces for which keep returns
// true. Names of removed interfaces are appended to Dropped.
func (p Partitions) Only(keep func(Interface) bool) Partitions {
	out := Partitions{Dropped: append([]Name(nil), p.Dropped...)}
	for _, iface := range Interfaces {
		if keep(iface) {
			out.byIface[iface] = p.byIface[iface]
			continue
		}
		out.Dropped = append(out.Dropped, p.byIface[iface]...)
	}
	return out
}

// Part is one non-empty interface partition.
type Part struct {
	Interface Interface
	Names     []Name
}

// Single reports whether the part is served by a single-property call.
func (p Part) Single() bool {
	return len(p.Names) == 1
}

// NonEmpty returns the partitions that issue a call, in interface order.
func (p Partitions) NonEmpty() []Part {
	var parts []Part
	for _, iface := range Interfaces {
		if names := p.byIface[iface]; len(names) > 0 {
			parts = append(parts, Part{Interface: iface, Names: names})
		}
	}
	return parts
}

// Len returns the number of names that survived partitioning.
func (p Partitions) Len() int {
	n := 0
	for _, names := range p.byIface {
		n += len(names)
	}
	return n
}

// Names returns all surviving names, interface by interface.
func (p Partitions) Names() []Name {
	out := make([]Name, 0, p.Len())
	for _, names := range p.byIface {
		out = append(out, names...)
	}
	return out
}

// ParseNames resolves user-supplied names, returning the recognised names and
// the rejected input strings.
func ParseNames(in []string) (names []Name, unknown []string) {
	for _, s := range in {
		name, ok := ParseName(s)
		if !ok {
			unknown = append(unknown, s)
			continue
		}
		names = append(names, name)
	}
	return names, unknown
}
