package artcode

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	arcerrors "arcsetup/pkg/errors"
	"arcsetup/pkg/fileutil"

	"github.com/opencontainers/go-digest"
)

// DigestEntry is one file of a digest chain.
type DigestEntry struct {
	ISA    string
	File   string
	Digest digest.Digest
}

// DigestChain is the ordered list of per-file digests of one isa.
type DigestChain []DigestEntry

// Fold hashes the chain into a single digest. Order matters.
func (c DigestChain) Fold() digest.Digest {
	d := digest.Canonical.Digester()
	for _, e := range c {
		fmt.Fprintf(d.Hash(), "%s\x00%s\x00%s\n", e.ISA, e.File, e.Digest)
	}
	return d.Digest()
}

// ComputeChain hashes every regular file in cacheDir/<isa> in name order.
// Symlinks point into the read-only system image and are not covered.
func ComputeChain(cacheDir, isa string) (DigestChain, error) {
	dir := filepath.Join(cacheDir, isa)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var chain DigestChain
	for _, e := range entries {
		if !e.Type().IsRegular() || isIntegrityFile(e.Name()) {
			continue
		}
		d, err := fileDigest(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		chain = append(chain, DigestEntry{ISA: isa, File: e.Name(), Digest: d})
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].File < chain[j].File })
	return chain, nil
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d, err := digest.Canonical.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// Signer produces and checks detached signatures over a folded chain.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	Verify(msg, sig []byte) error
}

// NopSigner records digests without signing them. Verify accepts any
// signature, so only per-file digests are enforced.
type NopSigner struct{}

func (NopSigner) Sign(msg []byte) ([]byte, error) { return nil, nil }
func (NopSigner) Verify(msg, sig []byte) error    { return nil }

// Ed25519Signer signs with a locally stored development key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer returns a signer for the given 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.key, msg), nil
}

func (s *Ed25519Signer) Verify(msg, sig []byte) error {
	if !ed25519.Verify(s.key.Public().(ed25519.PublicKey), msg, sig) {
		return arcerrors.ErrBadSignature
	}
	return nil
}

// LoadSigner reads a hex-encoded ed25519 seed from keyPath. A missing key
// file returns ErrSigningDisabled.
func LoadSigner(keyPath string) (Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, arcerrors.ErrSigningDisabled
		}
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	return NewEd25519Signer(seed)
}

// Sign records the digest chain of cacheDir/<isa> in a digests file and
// the signature of its fold in digests.sig.
func Sign(cacheDir, isa string, s Signer) error {
	chain, err := ComputeChain(cacheDir, isa)
	if err != nil {
		return fmt.Errorf("compute digests for %s: %w", isa, err)
	}
	if len(chain) == 0 {
		return fmt.Errorf("%s/%s: %w", cacheDir, isa, arcerrors.ErrEmptyCache)
	}

	var buf bytes.Buffer
	for _, e := range chain {
		fmt.Fprintf(&buf, "%s  %s\n", e.Digest, e.File)
	}
	sig, err := s.Sign([]byte(chain.Fold()))
	if err != nil {
		return fmt.Errorf("sign digests for %s: %w", isa, err)
	}

	dir := filepath.Join(cacheDir, isa)
	if err := fileutil.AtomicWriteFile(filepath.Join(dir, digestsFile), buf.Bytes(), 0644); err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(filepath.Join(dir, digestsSignature), sig, 0644)
}

func readChain(path, isa string) (DigestChain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chain DigestChain
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed line in %s: %q", path, scanner.Text())
		}
		d, err := digest.Parse(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		chain = append(chain, DigestEntry{ISA: isa, File: fields[1], Digest: d})
	}
	return chain, scanner.Err()
}

// Verify checks cacheDir/<isa> against its recorded digest chain:
// every file must hash to its recorded digest, every relocated image must
// carry the same checksum as its copy in systemDir/<isa>, and the folded
// chain must match digests.sig.
func Verify(cacheDir, systemDir, isa string, s Signer) error {
	dir := filepath.Join(cacheDir, isa)
	recorded, err := readChain(filepath.Join(dir, digestsFile), isa)
	if err != nil {
		return fmt.Errorf("read recorded digests for %s: %w", isa, err)
	}
	actual, err := ComputeChain(cacheDir, isa)
	if err != nil {
		return fmt.Errorf("compute digests for %s: %w", isa, err)
	}

	if len(actual) != len(recorded) {
		return fmt.Errorf("%s: %d files, %d recorded: %w", isa, len(actual), len(recorded), arcerrors.ErrDigestMismatch)
	}
	for i := range actual {
		if actual[i].File != recorded[i].File || actual[i].Digest != recorded[i].Digest {
			return fmt.Errorf("%s/%s: %w", isa, actual[i].File, arcerrors.ErrDigestMismatch)
		}
		if err := checkInSync(dir, filepath.Join(systemDir, isa), actual[i].File); err != nil {
			return err
		}
	}

	sig, err := os.ReadFile(filepath.Join(dir, digestsSignature))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read signature for %s: %w", isa, err)
	}
	if err := s.Verify([]byte(recorded.Fold()), sig); err != nil {
		return fmt.Errorf("%s: %w", isa, err)
	}
	return nil
}

// checkInSync compares the header checksum of a relocated image with the
// image it was generated from.
func checkInSync(cacheISA, systemISA, name string) error {
	if !strings.HasSuffix(name, imageFileSuffix) {
		return nil
	}
	got, err := ImageChecksum(filepath.Join(cacheISA, name))
	if err != nil {
		return err
	}
	want, err := ImageChecksum(filepath.Join(systemISA, systemName(name)))
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s: %#x != %#x: %w", name, got, want, arcerrors.ErrChecksumMismatch)
	}
	return nil
}
