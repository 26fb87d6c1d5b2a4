package digest

import (
	"crypto/sha256"
	"hash"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Engine computes digests for one execution unit.
//
// An engine is not safe for concurrent use: it reuses its hasher and
// buffers between calls, so every unit gets its own instance.
type Engine interface {
	Name() string
	Sum(input []byte) Digest
}

// SumString digests a string input.
func SumString(e Engine, input string) Digest {
	return e.Sum([]byte(input))
}

// Names of the registered engines
const (
	SHA256     = "sha256"
	SHA256d    = "sha256d"
	Keccak256  = "keccak256"
	SHA3_256   = "sha3-256"
	Blake2b256 = "blake2b-256"
	Blake2s256 = "blake2s-256"
)

var registry = map[string]func() Engine{
	SHA256:     func() Engine { return sha256Engine{} },
	SHA256d:    func() Engine { return sha256dEngine{} },
	Keccak256:  func() Engine { return newHasherEngine(Keccak256, sha3.NewLegacyKeccak256()) },
	SHA3_256:   func() Engine { return newHasherEngine(SHA3_256, sha3.New256()) },
	Blake2b256: func() Engine { return blake2bEngine{} },
	Blake2s256: func() Engine { return blake2sEngine{} },
}

// Names returns the registered engine names in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a fresh engine by name.
func New(name string) (Engine, bool) {
	create, ok := registry[name]
	if !ok {
		return nil, false
	}
	return create(), true
}

type sha256Engine struct{}

func (sha256Engine) Name() string { return SHA256 }

func (sha256Engine) Sum(input []byte) Digest {
	return sha256.Sum256(input)
}

type sha256dEngine struct{}

func (sha256dEngine) Name() string { return SHA256d }

func (sha256dEngine) Sum(input []byte) Digest {
	first := sha256.Sum256(input)
	return sha256.Sum256(first[:])
}

type blake2bEngine struct{}

func (blake2bEngine) Name() string { return Blake2b256 }

func (blake2bEngine) Sum(input []byte) Digest {
	return blake2b.Sum256(input)
}

type blake2sEngine struct{}

func (blake2sEngine) Name() string { return Blake2s256 }

func (blake2sEngine) Sum(input []byte) Digest {
	return blake2s.Sum256(input)
}

// hasherEngine reuses one hash.Hash and its output buffer to avoid
// allocations in the hot path
type hasherEngine struct {
	name    string
	hasher  hash.Hash
	hashBuf [Size]byte
}

func newHasherEngine(name string, h hash.Hash) *hasherEngine {
	return &hasherEngine{name: name, hasher: h}
}

func (e *hasherEngine) Name() string { return e.name }

func (e *hasherEngine) Sum(input []byte) Digest {
	e.hasher.Reset()
	e.hasher.Write(input)
	var d Digest
	copy(d[:], e.hasher.Sum(e.hashBuf[:0]))
	return d
}
