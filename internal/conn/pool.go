package conn

import "sync"

const (
	// CopyBufferSize is the size of relay copy buffers.
	CopyBufferSize = 32 * 1024
	// DatagramBufferSize fits the largest possible UDP payload.
	DatagramBufferSize = 64 * 1024
)

// BufferPool hands out fixed-size byte slices.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *BufferPool) Put(b *[]byte) {
	p.pool.Put(b)
}

var (
	copyBuffers     = NewBufferPool(CopyBufferSize)
	datagramBuffers = NewBufferPool(DatagramBufferSize)
)

// GetDatagramBuffer returns a buffer large enough for any UDP datagram.
// Return it with PutDatagramBuffer.
func GetDatagramBuffer() *[]byte {
	return datagramBuffers.Get()
}

func PutDatagramBuffer(b *[]byte) {
	datagramBuffers.Put(b)
}
