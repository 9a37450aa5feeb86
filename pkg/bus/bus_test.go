package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/property"
)

func connect(t *testing.T, hub *Hub) *Endpoint {
	t.Helper()
	ep, err := hub.Connect()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, msg *Message, reply ReplyFunc) {
		switch msg.Member {
		case "Echo":
			reply(&Reply{Values: msg.Args})
		case "Fail":
			reply(ErrorReply(ErrNameFailed, "nope"))
		case "Later":
			go func() {
				time.Sleep(10 * time.Millisecond)
				reply(&Reply{Values: []property.Value{property.String("late")}})
			}()
		case "Never":
		default:
			reply(ErrorReply(ErrNameUnknownMethod, msg.Member))
		}
	})
}

func TestUniqueNames(t *testing.T) {
	hub := NewHub()
	a := connect(t, hub)
	b := connect(t, hub)

	assert.NotEmpty(t, a.UniqueName())
	assert.NotEqual(t, a.UniqueName(), b.UniqueName())
	assert.Regexp(t, `^:1\.\d+$`, a.UniqueName())
}

func TestRequestAndReleaseName(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a := connect(t, hub)
	b := connect(t, hub)

	require.NoError(t, a.RequestName(ctx, "org.example.A"))
	require.NoError(t, a.RequestName(ctx, "org.example.A"), "re-request by owner is fine")
	assert.Error(t, b.RequestName(ctx, "org.example.A"))

	owner, err := b.NameOwner(ctx, "org.example.A")
	require.NoError(t, err)
	assert.Equal(t, a.UniqueName(), owner)

	names, err := b.ListNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "org.example.A")
	assert.Contains(t, names, DaemonName)

	assert.Error(t, b.ReleaseName(ctx, "org.example.A"))
	require.NoError(t, a.ReleaseName(ctx, "org.example.A"))

	_, err = b.NameOwner(ctx, "org.example.A")
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrNameNameHasNoOwner, be.Name)
}

func TestCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	server := connect(t, hub)
	client := connect(t, hub)

	require.NoError(t, server.RequestName(ctx, "org.example.Echo"))
	_, err := server.Export("/obj", echoHandler())
	require.NoError(t, err)

	r, err := client.Call(ctx, &Message{
		Destination: "org.example.Echo",
		Path:        "/obj/child",
		Member:      "Echo",
		Args:        []property.Value{property.Int(5)},
	})
	require.NoError(t, err)
	assert.True(t, property.Int(5).Equal(r.Value(0)))

	_, err = client.Call(ctx, &Message{Destination: "org.example.Echo", Path: "/obj", Member: "Fail"})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrNameFailed, be.Name)

	_, err = client.Call(ctx, &Message{Destination: "org.example.Echo", Path: "/other", Member: "Echo"})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrNameUnknownObject, be.Name)

	_, err = client.Call(ctx, &Message{Destination: "org.example.Missing", Path: "/obj", Member: "Echo"})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrNameServiceUnknown, be.Name)
}

func TestGoRunsCallbackOnEventLoop(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	server := connect(t, hub)
	client := connect(t, hub)
	_, err := server.Export("/", echoHandler())
	require.NoError(t, err)

	done := make(chan *Reply, 1)
	client.Go(ctx, &Message{Destination: server.UniqueName(), Path: "/x", Member: "Later"}, func(r *Reply) {
		// Sync calls from the loop must not deadlock.
		_, err := client.ListNames(ctx)
		assert.NoError(t, err)
		done <- r
	})

	select {
	case r := <-done:
		s, _ := r.Value(0).AsString()
		assert.Equal(t, "late", s)
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestPostRunsInOrderOnEventLoop(t *testing.T) {
	hub := NewHub()
	ep, err := hub.Connect()
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := range 3 {
		require.True(t, ep.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 2 {
				close(done)
			}
		}))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted tasks did not run")
	}
	mu.Lock()
	assert.Equal(t, []int{0, 1, 2}, order)
	mu.Unlock()

	require.NoError(t, ep.Close())
	<-ep.Done()
	assert.False(t, ep.Post(func() { t.Error("task ran after close") }))
}

func TestGoContextExpiry(t *testing.T) {
	hub := NewHub()
	server := connect(t, hub)
	client := connect(t, hub)
	_, err := server.Export("/", echoHandler())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Call(ctx, &Message{Destination: server.UniqueName(), Path: "/", Member: "Never"})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrNameNoReply, be.Name)
}

func TestCloseFailsPendingCalls(t *testing.T) {
	hub := NewHub()
	server := connect(t, hub)
	client, err := hub.Connect()
	require.NoError(t, err)
	_, err = server.Export("/", echoHandler())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var got *Reply
	client.Go(context.Background(), &Message{Destination: server.UniqueName(), Path: "/", Member: "Never"}, func(r *Reply) {
		got = r
		wg.Done()
	})

	require.NoError(t, client.Close())
	wg.Wait()
	require.NotNil(t, got.Err)
	assert.Equal(t, ErrNameDisconnected, got.Err.Name)

	_, err = client.Call(context.Background(), &Message{Destination: DaemonName, Member: MethodListNames})
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrNameDisconnected, be.Name)
}

func TestNameOwnerChangedOnDisconnect(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	watcher := connect(t, hub)
	provider, err := hub.Connect()
	require.NoError(t, err)

	events := make(chan [3]string, 16)
	watcher.Subscribe(Match{Sender: DaemonName, Member: SignalNameOwnerChanged}, func(sig *Signal) {
		var ev [3]string
		for i := range ev {
			ev[i], _ = sig.Args[i].AsString()
		}
		events <- ev
	})

	require.NoError(t, provider.RequestName(ctx, "org.example.P"))
	unique := provider.UniqueName()
	require.NoError(t, provider.Close())

	want := map[[3]string]bool{
		{"org.example.P", "", unique}: false,
		{"org.example.P", unique, ""}: false,
		{unique, unique, ""}:          false,
	}
	deadline := time.After(2 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case ev := <-events:
			if seen, ok := want[ev]; ok && !seen {
				want[ev] = true
				remaining--
			}
		case <-deadline:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestNameOwnerChangedOrdering(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	watcher := connect(t, hub)
	const name = "org.example.Contended"

	var mu sync.Mutex
	var events [][2]string
	watcher.Subscribe(Match{Sender: DaemonName, Member: SignalNameOwnerChanged}, func(sig *Signal) {
		if n, _ := sig.Args[0].AsString(); n != name {
			return
		}
		oldOwner, _ := sig.Args[1].AsString()
		newOwner, _ := sig.Args[2].AsString()
		mu.Lock()
		events = append(events, [2]string{oldOwner, newOwner})
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 4 {
		ep := connect(t, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if ep.RequestName(ctx, name) == nil {
					_ = ep.ReleaseName(ctx, name)
				}
			}
		}()
	}
	wg.Wait()

	// Broadcasts precede the daemon's replies, so one more task on the
	// watcher's loop runs after all of them.
	flushed := make(chan struct{})
	require.True(t, watcher.Post(func() { close(flushed) }))
	<-flushed

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	owner := ""
	for i, ev := range events {
		require.Equal(t, owner, ev[0], "event %d out of order", i)
		owner = ev[1]
	}
	assert.Empty(t, owner)
}

func TestSignalSubscription(t *testing.T) {
	hub := NewHub()
	emitter := connect(t, hub)
	listener := connect(t, hub)

	got := make(chan string, 4)
	cancel := listener.Subscribe(Match{Sender: emitter.UniqueName(), Member: "Updated", PathPrefix: "/a"}, func(sig *Signal) {
		got <- sig.Path
	})

	require.NoError(t, emitter.Emit(&Signal{Path: "/b", Member: "Updated"}))
	require.NoError(t, emitter.Emit(&Signal{Path: "/a/1", Member: "Updated"}))

	select {
	case path := <-got:
		assert.Equal(t, "/a/1", path)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}

	cancel()
	require.NoError(t, emitter.Emit(&Signal{Path: "/a/2", Member: "Updated"}))
	// Flush the listener loop with a round trip.
	_, err := listener.ListNames(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)
}

func TestMatch(t *testing.T) {
	sig := &Signal{Sender: ":1.1", Interface: "i", Member: "m", Path: "/a/b"}

	assert.True(t, Match{}.Matches(sig))
	assert.True(t, Match{PathPrefix: "/a"}.Matches(sig))
	assert.True(t, Match{PathPrefix: "/a/b"}.Matches(sig))
	assert.False(t, Match{PathPrefix: "/a/bc"}.Matches(sig))
	assert.False(t, Match{PathPrefix: "/ab"}.Matches(sig))
	assert.True(t, Match{PathPrefix: "/"}.Matches(sig))
	assert.False(t, Match{Sender: ":1.2"}.Matches(sig))
}
