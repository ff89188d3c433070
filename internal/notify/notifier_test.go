package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/chaperone/internal/cache"
	"github.com/oggyb/chaperone/internal/config"
	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/db/dbtest"
	"github.com/oggyb/chaperone/internal/logger"
	"github.com/oggyb/chaperone/internal/notify"
)

func TestNotifyStoresAndPublishes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gdb := dbtest.Open(t)
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)

	ps, err := rc.Subscribe(ctx, rc.ChannelForUser(5))
	require.NoError(t, err)
	defer ps.Close()

	n := notify.New(gdb, rc, logger.Discard())
	n.Notify(ctx, 5, notify.KindLikeReceived, "New like", "someone likes you")

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev notify.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, notify.KindLikeReceived, ev.Kind)
	assert.NotZero(t, ev.ID)

	rows, err := n.List(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsRead)

	marked, err := n.MarkAllRead(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
}

func TestNotifySwallowsRedisFailure(t *testing.T) {
	gdb := dbtest.Open(t)
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)
	mr.Close()

	n := notify.New(gdb, rc, logger.Discard())
	n.NotifyMany(context.Background(), []uint64{1, 2}, notify.KindConnectionValidated, "Validated", "")

	var count int64
	require.NoError(t, gdb.Model(&db.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestLogMailer(t *testing.T) {
	m := notify.NewLogMailer(logger.Discard())
	assert.NoError(t, m.Send(context.Background(), "dad@test.com", "Invitation", "join"))
}
