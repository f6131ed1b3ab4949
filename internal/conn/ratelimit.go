package conn

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitedReader throttles reads from r with a token bucket.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewRateLimitedReader limits reads from r to bytesPerSecond. A non-positive
// rate returns r unchanged.
func NewRateLimitedReader(ctx context.Context, r io.Reader, bytesPerSecond int64) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}

	burst := CopyBufferSize
	if bytesPerSecond < int64(burst) {
		burst = int(bytesPerSecond)
	}

	return &rateLimitedReader{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	// WaitN rejects requests larger than the burst.
	if b := r.limiter.Burst(); len(p) > b {
		p = p[:b]
	}

	n, err := r.r.Read(p)
	if n <= 0 {
		return n, err
	}

	if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
		return n, werr
	}
	return n, err
}
