package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/streamhub/internal/transport"
)

func TestNode_RequestReply(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join("a"), hub.Join("b")
	b.Handle("echo", func(_ context.Context, from transport.MemberID, payload []byte) ([]byte, error) {
		return append([]byte(string(from)+":"), payload...), nil
	})

	resp, err := a.Request(context.Background(), "b", "echo", []byte("hi")).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a:hi", string(resp))
}

func TestNode_HandlerErrorBecomesRemoteError(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join("a"), hub.Join("b")
	b.Handle("fail", func(context.Context, transport.MemberID, []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	err := a.Request(context.Background(), "b", "fail", nil).Err()
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, transport.MemberID("b"), remote.Member)
	assert.True(t, transport.HasCode(err, transport.CodeInternal))

	err = a.Request(context.Background(), "b", "missing", nil).Err()
	assert.True(t, transport.HasCode(err, transport.CodeNoHandler))
}

func TestNode_UnknownMemberAndClosed(t *testing.T) {
	hub := NewHub()
	a := hub.Join("a")

	assert.ErrorIs(t, a.Request(context.Background(), "ghost", "x", nil).Err(), transport.ErrUnknownMember)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Request(context.Background(), "a", "x", nil).Err(), transport.ErrClosed)
}

func TestNode_RequestHonoursDeadline(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join("a"), hub.Join("b")
	release := make(chan struct{})
	defer close(release)
	b.Handle("stuck", func(context.Context, transport.MemberID, []byte) ([]byte, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	fut := a.Request(ctx, "b", "stuck", nil)

	select {
	case <-fut.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request ignored the deadline")
	}
	err := fut.Err()
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNode_RequestCancelled(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join("a"), hub.Join("b")
	release := make(chan struct{})
	defer close(release)
	b.Handle("stuck", func(context.Context, transport.MemberID, []byte) ([]byte, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	fut := a.Request(ctx, "b", "stuck", nil)
	cancel()

	assert.ErrorIs(t, fut.Err(), context.Canceled)
}
