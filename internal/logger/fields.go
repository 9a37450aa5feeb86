package logger

// Standard field keys. Use them consistently so logs can be queried by key.
const (
	KeyProvider   = "provider"   // Provider name (without bus prefix)
	KeyGeneration = "generation" // MediaServer1 or MediaServer2
	KeyPath       = "path"       // Object path
	KeyID         = "id"         // Catalog identifier
	KeyMethod     = "method"     // Bus member name
	KeyInterface  = "interface"  // Bus interface name
	KeySender     = "sender"     // Unique bus name of the caller
	KeyPeer       = "peer"       // Unique bus name of a connection
	KeyBusName    = "bus_name"   // Well-known bus name
	KeyNames      = "names"      // Requested property names
	KeyCount      = "count"      // Number of objects or partitions
	KeySource     = "source"     // Catalog source name
	KeyError      = "error"      // Error message
	KeyDuration   = "duration"   // Operation duration
	KeyAddress    = "address"    // Listen or dial address
)
