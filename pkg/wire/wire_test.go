package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFlatAndWrappedAgree(t *testing.T) {
	flat, ok := Decode([]byte(`{"type":"X","foo":1}`))
	require.True(t, ok)
	wrapped, ok := Decode([]byte(`{"event_type":"X","data":{"foo":1}}`))
	require.True(t, ok)

	require.Equal(t, "X", flat.Type)
	require.Equal(t, flat.Type, wrapped.Type)
	require.Equal(t, flat.Payload, wrapped.Payload)
	require.Equal(t, "X", flat.Payload["type"])
	require.Equal(t, float64(1), flat.Num("foo"))
}

func TestDecodeDiscardsUnknownShapes(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"foo":1}`),
		[]byte(`{"type":""}`),
		[]byte(`{"event_type":""}`),
		[]byte(`not json`),
		[]byte(`[1,2,3]`),
	}
	for _, c := range cases {
		if _, ok := Decode(c); ok {
			t.Fatalf("expected %s to be discarded", c)
		}
	}
}

func TestDecodeWrappedWithoutData(t *testing.T) {
	ev, ok := Decode([]byte(`{"event_type":"Y"}`))
	require.True(t, ok)
	require.Equal(t, "Y", ev.Type)
	require.Equal(t, "Y", ev.Str("type"))
}

func TestFrames(t *testing.T) {
	ev, ok := Decode(SubscribeProjectFrame("p1"))
	require.True(t, ok)
	require.Equal(t, FrameSubscribeProject, ev.Type)
	require.Equal(t, "p1", ev.Str("project_id"))

	ev, ok = Decode(SubscribeConversationFrame("t1"))
	require.True(t, ok)
	require.Equal(t, "t1", ev.Str("thread_id"))

	ev, ok = Decode(AuthFrame("tok"))
	require.True(t, ok)
	auth, _ := ev.Payload["auth"].(map[string]any)
	require.Equal(t, "tok", auth["token"])
}
