package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RelayOptions tunes CopyBidirectional.
type RelayOptions struct {
	// RateLimit caps each direction in bytes per second. Zero is unlimited.
	RateLimit int64
}

// RelayStats reports bytes moved in each direction.
type RelayStats struct {
	LeftToRight int64
	RightToLeft int64
}

// CopyBidirectional copies left->right and right->left concurrently. As soon
// as either direction ends, on EOF or error, both connections are closed and
// the other direction is abandoned. Canceling ctx closes both connections.
//
// Errors caused by the teardown itself are not reported.
func CopyBidirectional(ctx context.Context, left, right net.Conn, opts RelayOptions) (RelayStats, error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var (
		stats RelayStats
		g     errgroup.Group
	)

	g.Go(func() error {
		defer closeBoth()
		n, err := copyBuffer(ctx, right, left, opts.RateLimit)
		stats.LeftToRight = n
		return relayError(err)
	})

	g.Go(func() error {
		defer closeBoth()
		n, err := copyBuffer(ctx, left, right, opts.RateLimit)
		stats.RightToLeft = n
		return relayError(err)
	})

	err := g.Wait()
	return stats, err
}

func copyBuffer(ctx context.Context, dst io.Writer, src io.Reader, rateLimit int64) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	return io.CopyBuffer(dst, NewRateLimitedReader(ctx, src, rateLimit), *buf)
}

func relayError(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
