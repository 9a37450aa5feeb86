package wsbus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/property"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *bus.Frame
	}{
		{
			name: "call",
			frame: &bus.Frame{
				Kind:        bus.FrameCall,
				Serial:      7,
				Destination: "org.gnome.UPnP.MediaServer2.x",
				Message: &bus.Message{
					Sender:      ":1.3",
					Destination: "org.gnome.UPnP.MediaServer2.x",
					Path:        "/org/gnome/UPnP/MediaServer2/x",
					Interface:   "org.freedesktop.DBus.Properties",
					Member:      "GetAll",
					Args: []property.Value{
						property.String("org.gnome.UPnP.MediaItem2"),
						property.StringList([]string{"URLs", "Size"}),
						property.UInt(3),
						property.Int(-1),
						property.Bool(true),
					},
				},
			},
		},
		{
			name: "reply with table",
			frame: &bus.Frame{
				Kind:        bus.FrameReply,
				ReplySerial: 7,
				Destination: ":1.3",
				Reply: &bus.Reply{
					Values: []property.Value{property.String("v")},
					Tables: []property.Table{{
						property.DisplayName: property.String("Song"),
						property.URLs:        property.StringList([]string{"http://x"}),
						property.Size:        property.Int(10),
					}},
				},
			},
		},
		{
			name: "error reply",
			frame: &bus.Frame{
				Kind:        bus.FrameReply,
				ReplySerial: 9,
				Reply:       bus.ErrorReply(bus.ErrNameFailed, "nope"),
			},
		},
		{
			name: "signal",
			frame: &bus.Frame{
				Kind: bus.FrameSignal,
				Signal: &bus.Signal{
					Sender: ":1.1",
					Path:   "/a",
					Member: "Updated",
				},
			},
		},
		{
			name:  "hello",
			frame: &bus.Frame{Kind: bus.FrameHello, Destination: ":1.9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeFrame(tt.frame)
			require.NoError(t, err)

			got, err := decodeFrame(data)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.Kind, got.Kind)
			assert.Equal(t, tt.frame.Serial, got.Serial)
			assert.Equal(t, tt.frame.ReplySerial, got.ReplySerial)
			assert.Equal(t, tt.frame.Destination, got.Destination)

			switch tt.frame.Kind {
			case bus.FrameCall:
				assert.Equal(t, tt.frame.Message.Member, got.Message.Member)
				assert.Equal(t, tt.frame.Message.Path, got.Message.Path)
				require.Len(t, got.Message.Args, len(tt.frame.Message.Args))
				for i := range got.Message.Args {
					assert.True(t, tt.frame.Message.Args[i].Equal(got.Message.Args[i]))
				}
			case bus.FrameReply:
				if tt.frame.Reply.Err != nil {
					require.NotNil(t, got.Reply.Err)
					assert.Equal(t, *tt.frame.Reply.Err, *got.Reply.Err)
				}
				require.Len(t, got.Reply.Tables, len(tt.frame.Reply.Tables))
				for i := range got.Reply.Tables {
					assert.True(t, tt.frame.Reply.Tables[i].Equal(got.Reply.Tables[i]))
				}
			case bus.FrameSignal:
				assert.Equal(t, *tt.frame.Signal, *got.Signal)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decodeFrame([]byte{0, 0, 0})
	assert.Error(t, err)

	bad, err := encodeFrame(&bus.Frame{Kind: bus.FrameKind(99)})
	require.NoError(t, err)
	_, err = decodeFrame(bad)
	assert.Error(t, err)
}

func TestDialAndCall(t *testing.T) {
	hub := bus.NewHub()
	srv := NewServer(hub, ServerConfig{PingInterval: time.Second}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + BusPath
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := Dial(ctx, url)
	require.NoError(t, err)
	defer provider.Close()
	assert.NotEmpty(t, provider.UniqueName())

	require.NoError(t, provider.RequestName(ctx, "org.example.Remote"))
	_, err = provider.Export("/obj", bus.HandlerFunc(func(_ context.Context, msg *bus.Message, reply bus.ReplyFunc) {
		reply(&bus.Reply{Tables: []property.Table{{property.DisplayName: property.String(msg.Path)}}})
	}))
	require.NoError(t, err)

	consumer, err := Dial(ctx, url)
	require.NoError(t, err)
	defer consumer.Close()

	r, err := consumer.Call(ctx, &bus.Message{Destination: "org.example.Remote", Path: "/obj/1", Member: "Get"})
	require.NoError(t, err)
	assert.Equal(t, "/obj/1", r.Table().DisplayName())

	names, err := consumer.ListNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "org.example.Remote")

	// A local loopback connection shares the same hub.
	local, err := hub.Connect()
	require.NoError(t, err)
	defer local.Close()
	owner, err := local.NameOwner(ctx, "org.example.Remote")
	require.NoError(t, err)
	assert.Equal(t, provider.UniqueName(), owner)
}

func TestRateLimitedCalls(t *testing.T) {
	hub := bus.NewHub()
	srv := NewServer(hub, ServerConfig{RateLimit: 1, RateBurst: 1}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+BusPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ListNames(ctx)
	require.NoError(t, err)

	_, err = conn.ListNames(ctx)
	var be *bus.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bus.ErrNameLimitsExceeded, be.Name)
}
