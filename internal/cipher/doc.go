// Package cipher provides homomorphic ciphertext handles for sealgauge.
//
// Records carry their telemetry as BGV ciphertexts. The core only ever holds
// the public half of the scheme: it can encrypt, combine handles with Add, Mul,
// AddConst and MulConst, and export handles as bytes. Decryption requires the
// secret key held by a Keyring, which only the oracle owns.
package cipher
