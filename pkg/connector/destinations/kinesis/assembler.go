package kinesis

import (
	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

// PutRecords limits
const (
	// MaxRecordsPerBatch is the maximum number of records per request
	MaxRecordsPerBatch = 500
	// MaxRecordSize is the maximum payload size of a single record
	MaxRecordSize = 1024 * 1024
	// MaxBatchBytes is the maximum size of a request, keys included
	MaxBatchBytes = 5 * 1024 * 1024
)

// DeliveryBatch is an ordered group of units sent in one request
type DeliveryBatch struct {
	Units []DeliveryUnit
	// Bytes is the sum of the units' sizes
	Bytes int
}

// Len returns the number of units
func (b DeliveryBatch) Len() int {
	return len(b.Units)
}

// Rejected is a unit that can never be delivered
type Rejected struct {
	// Index is the unit's position in the input
	Index int
	Unit  DeliveryUnit
	Err   error
}

// Assemble splits units into batches of at most MaxRecordsPerBatch units and
// MaxBatchBytes bytes, preserving input order. Units whose payload exceeds
// MaxRecordSize are left out and returned as rejected with an oversized
// record error.
func Assemble(units []DeliveryUnit) ([]DeliveryBatch, []Rejected) {
	var (
		batches  []DeliveryBatch
		rejected []Rejected
		current  DeliveryBatch
	)

	for i, u := range units {
		if len(u.Data) > MaxRecordSize {
			rejected = append(rejected, Rejected{
				Index: i,
				Unit:  u,
				Err: errors.Newf(errors.ErrorTypeOversized, "record size %d exceeds limit of %d bytes", len(u.Data), MaxRecordSize).
					WithDetail("size", len(u.Data)),
			})
			continue
		}

		size := u.Size()
		if current.Len() == MaxRecordsPerBatch || (current.Len() > 0 && current.Bytes+size > MaxBatchBytes) {
			batches = append(batches, current)
			current = DeliveryBatch{}
		}
		current.Units = append(current.Units, u)
		current.Bytes += size
	}

	if current.Len() > 0 {
		batches = append(batches, current)
	}
	return batches, rejected
}
