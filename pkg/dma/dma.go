// Package dma reads sample words from a streaming character device, such
// as an XDMA card-to-host channel or a named pipe fed by a capture helper,
// and hands them out in whole 256-word batches. It is an alternate FIFO
// backend for hosts where the sample FIFO is not register mapped.
package dma

import (
	"encoding/binary"
	"errors"
)

const (
	BatchWords = 256
	batchBytes = BatchWords * 4
)

var ErrClosed = errors.New("dma: reader closed")

// Stats are cumulative reader counters.
type Stats struct {
	BytesRead uint64 `json:"bytes_read"`
	Batches   uint64 `json:"batches"`
}

// cut removes one batch from the front of pending and decodes it.
func cut(pending []byte) ([]uint32, []byte) {
	batch := make([]uint32, BatchWords)
	for i := range batch {
		batch[i] = binary.LittleEndian.Uint32(pending[i*4:])
	}
	rest := copy(pending, pending[batchBytes:])
	return batch, pending[:rest]
}
