package broker

import (
	"context"

	"github.com/roach88/sealgauge/internal/ir"
)

// Job is what the broker hands to the decryption subsystem.
type Job struct {
	Kind          ir.RevealKind
	Handles       [][]byte
	HandlesDigest string
}

// Decrypter is the decryption subsystem seen from the core.
//
// RequestDecryption accepts a job and returns the id its callback will carry.
// It must not block waiting for the callback: results come back later through
// the engine's callback entry point. Cancel drops a job whose request was never
// stored or was invalidated; it is best effort.
type Decrypter interface {
	RequestDecryption(ctx context.Context, job Job) (ir.RequestID, error)
	Cancel(id ir.RequestID)
}
