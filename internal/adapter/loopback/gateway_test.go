package loopback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

func TestGateway_ConfirmsEveryOrder(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []domain.Confirmation
	)
	gw := NewGateway(func(_ context.Context, conf domain.Confirmation) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, conf)
		return nil
	}, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Run(ctx)
	}()

	order := domain.TransferOrder{Tag: "out:refund:full:abc", Amount: 300, SourceDomain: "ethereum", DestinationDomain: "arbitrum"}
	handle, err := gw.Send(context.Background(), order)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	conf := delivered[0]
	assert.Equal(t, handle, conf.Handle)
	assert.True(t, conf.Outbound())
	assert.Equal(t, domain.Amount(300), conf.Amount)
	assert.Equal(t, []domain.TransferOrder{order}, gw.Sent())

	again, err := gw.Send(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, handle, again, "same tag yields the same handle")
}

func TestGateway_FullQueueFails(t *testing.T) {
	gw := NewGateway(func(context.Context, domain.Confirmation) error { return nil }, 1, nil)

	_, err := gw.Send(context.Background(), domain.TransferOrder{Tag: "out:p1:a"})
	require.NoError(t, err)
	_, err = gw.Send(context.Background(), domain.TransferOrder{Tag: "out:p1:b"})
	assert.ErrorIs(t, err, domain.ErrTransportFailure)
}
