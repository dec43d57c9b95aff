package events

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisPubSub_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ps := NewRedisPubSub(client, zap.NewNop())
	got := make(chan Event, 1)
	cancel, err := ps.Subscribe(func(e Event) { got <- e })
	require.NoError(t, err)
	defer cancel()

	target := uuid.New()
	ps.Publish(context.Background(), New(LockdownChanged, &target, uuid.New()))

	select {
	case e := <-got:
		assert.Equal(t, LockdownChanged, e.Type)
		require.NotNil(t, e.TargetID)
		assert.Equal(t, target, *e.TargetID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_BroadcastAndUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := &Client{ID: "a", hub: hub, send: make(chan Event, 1)}
	hub.Register(c)
	assert.Equal(t, 1, hub.Count())

	hub.Publish(context.Background(), New(WhitelistChanged, nil, uuid.Nil))
	e := <-c.send
	assert.Equal(t, WhitelistChanged, e.Type)

	// A full buffer drops rather than blocks.
	hub.Broadcast(New(TenantChanged, nil, uuid.Nil))
	hub.Broadcast(New(TenantChanged, nil, uuid.Nil))

	hub.Unregister(c)
	assert.Zero(t, hub.Count())
	hub.Unregister(c)
}

func TestServeWs_StreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop())
	auth := func(token string) (uuid.UUID, string, error) {
		if token != "good" {
			return uuid.Nil, "", errors.New("bad token")
		}
		return uuid.New(), "super_admin", nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, zap.NewNop(), auth, func(role string) bool { return role == "super_admin" }))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=good"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(New(PartnershipChanged, nil, uuid.Nil))

	var e Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, PartnershipChanged, e.Type)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
