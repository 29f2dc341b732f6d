package link

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// OperationOrigin tags whether an OperationId was minted for a single
// caller-issued mutation or for one operation inside a batch assembled by
// the persistence task (see persistence.BuildBatch). The tag travels
// alongside the UUID rather than being folded into its bits, so the
// embedded uuid.UUID stays a valid, independently comparable v7 UUID.
type OperationOrigin byte

const (
	OriginSingle  OperationOrigin = 0
	OriginBatched OperationOrigin = 1
)

// OperationId is a monotonic, time-ordered 128-bit identifier minted for
// every mutation. Ordering of OperationId is the canonical order in which
// mutations are considered to have happened.
type OperationId struct {
	id     uuid.UUID
	origin OperationOrigin
}

// NewOperationId mints a fresh, time-ordered OperationId.
func NewOperationId(origin OperationOrigin) (OperationId, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return OperationId{}, fmt.Errorf("link: generate operation id: %w", err)
	}
	return OperationId{id: id, origin: origin}, nil
}

// Origin reports whether this id was minted for a single op or a batch member.
func (o OperationId) Origin() OperationOrigin { return o.origin }

// Compare orders two OperationIds by their time-ordered UUID bytes. Ties
// (which a v7 UUID only produces under sub-millisecond contention, broken
// by its random tail) fall back to origin, single before batched.
func (o OperationId) Compare(other OperationId) int {
	if c := bytes.Compare(o.id[:], other.id[:]); c != 0 {
		return c
	}
	if o.origin == other.origin {
		return 0
	}
	if o.origin < other.origin {
		return -1
	}
	return 1
}

// Before reports whether o strictly precedes other in mutation order.
func (o OperationId) Before(other OperationId) bool { return o.Compare(other) < 0 }

func (o OperationId) String() string {
	return o.id.String()
}
