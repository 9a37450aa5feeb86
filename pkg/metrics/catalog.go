package metrics

import "time"

// FanoutMetrics observes client property requests split across interfaces.
type FanoutMetrics interface {
	// RecordRequest records a request issued as partitions remote calls.
	RecordRequest(generation string, partitions int)

	// RecordCall records one remote call ("Get" or "GetAll").
	RecordCall(method string)

	// RecordCompletion records the outcome ("success", "partial",
	// "error", "cancelled") of a request and its total duration.
	RecordCompletion(generation, outcome string, duration time.Duration)

	// RecordDropped records requested names dropped as unknown or not
	// applicable to the object's class.
	RecordDropped(count int)
}

// ServerMetrics observes inbound calls handled by a published provider.
type ServerMetrics interface {
	// RecordRequest records a handled call and its outcome.
	RecordRequest(provider, method string, duration time.Duration, err error)

	// SetPublished updates the number of providers exported on the bus.
	SetPublished(count int)

	// RecordUpdate records an Updated signal emitted for provider.
	RecordUpdate(provider string)
}

// ObserverMetrics observes the per-connection registry of client handles.
type ObserverMetrics interface {
	// SetHandles updates the number of live handles for provider.
	SetHandles(provider string, count int)

	// RecordDelivery records a notification ("updated", "destroyed",
	// "appeared") delivered to one subscriber.
	RecordDelivery(event string)
}

// SourceMetrics observes catalog source operations.
type SourceMetrics interface {
	// RecordOperation records a source operation ("resolve", "children",
	// "search") with its duration and outcome.
	RecordOperation(source, operation string, duration time.Duration, err error)
}

// BusMetrics observes the websocket hub.
type BusMetrics interface {
	PeerConnected()
	PeerDisconnected()
	FrameReceived(kind string)
	FrameRejected()
}

// Status returns the status label for err.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type noopFanoutMetrics struct{}

// NewNoopFanoutMetrics returns a FanoutMetrics that records nothing.
func NewNoopFanoutMetrics() FanoutMetrics { return noopFanoutMetrics{} }

func (noopFanoutMetrics) RecordRequest(string, int)                      {}
func (noopFanoutMetrics) RecordCall(string)                              {}
func (noopFanoutMetrics) RecordCompletion(string, string, time.Duration) {}
func (noopFanoutMetrics) RecordDropped(int)                              {}

type noopServerMetrics struct{}

// NewNoopServerMetrics returns a ServerMetrics that records nothing.
func NewNoopServerMetrics() ServerMetrics { return noopServerMetrics{} }

func (noopServerMetrics) RecordRequest(string, string, time.Duration, error) {}
func (noopServerMetrics) SetPublished(int)                                   {}
func (noopServerMetrics) RecordUpdate(string)                                {}

type noopObserverMetrics struct{}

// NewNoopObserverMetrics returns an ObserverMetrics that records nothing.
func NewNoopObserverMetrics() ObserverMetrics { return noopObserverMetrics{} }

func (noopObserverMetrics) SetHandles(string, int) {}
func (noopObserverMetrics) RecordDelivery(string)  {}

type noopSourceMetrics struct{}

// NewNoopSourceMetrics returns a SourceMetrics that records nothing.
func NewNoopSourceMetrics() SourceMetrics { return noopSourceMetrics{} }

func (noopSourceMetrics) RecordOperation(string, string, time.Duration, error) {}

type noopBusMetrics struct{}

// NewNoopBusMetrics returns a BusMetrics that records nothing.
func NewNoopBusMetrics() BusMetrics { return noopBusMetrics{} }

func (noopBusMetrics) PeerConnected()       {}
func (noopBusMetrics) PeerDisconnected()    {}
func (noopBusMetrics) FrameReceived(string) {}
func (noopBusMetrics) FrameRejected()       {}
