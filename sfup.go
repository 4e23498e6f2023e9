/*
Package sfup is the root of the Secure Federated Update Pipeline.

SFUP turns per-round gradient tensors computed by an edge worker into a
privacy-bounded, compressed, encrypted, signed update package; a central
aggregator validates, filters, and homomorphically sums contributions
from many workers into a single plaintext-recoverable model delta; an
evidence subsystem records a tamper-evident log of every state
transition on both sides.

The package itself holds no code. It exists so the module has a single
well-known import path and doc entry point, mirroring how a pure
computational library documents its scope. Callers import the concrete
subpackages they need:

  - csprng       seeded, substream-splittable cryptographic randomness
  - n2he         the additively homomorphic LWE cipher
  - dpaccount    the per-worker differential-privacy accountant
  - gradient     gradient tensor sets, expert gating, clipping
  - sparsify     Rand-K sparsification and error-feedback memory
  - quantize     per-tensor quantization and dequantization
  - pipeline     the worker-side round pipeline that composes the above
  - updatepkg    the versioned wire format and its seal/parse operations
  - aggregator   the round state machine, outlier filter, and sum/decrypt path
  - evalgate     the pure post-aggregation safety gate
  - evidence     the append-only hash-chained event log
  - keyprovider  key lifecycle and pluggable key-material back-ends
  - envelope     the immutable per-deployment Operating Envelope
  - sfuperrors   the shared error-kind taxonomy
*/
package sfup
