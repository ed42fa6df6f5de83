// Package ir provides the domain types shared by every sealgauge package.
//
// This package contains type definitions, the error taxonomy, canonical JSON
// and content hashes. All other internal packages import ir; ir imports
// nothing internal.
//
// Key design constraints:
//   - Ciphertexts are opaque []byte handles here; only internal/cipher interprets them
//   - Request identifiers are opaque strings minted by the decryption subsystem
//   - The empty RequestID and RecordID 0 never identify anything
//   - All JSON tags use snake_case
package ir
