// Package shamir implements threshold secret sharing over a prime field.
//
// A secret is mapped to one element of GF(p) for a fixed 1536-bit safe
// prime (the RFC 3526 group 5 modulus), well above 2^512, so the 64-byte
// custodian component fits in a single element with no chunking. A random
// polynomial of degree threshold-1 with the secret as constant term is
// sampled, and share i is the point (i, f(i)). Any threshold points
// determine f uniquely; any fewer reveal nothing about f(0). This is a
// property of the random-polynomial construction, not a computational
// hardness assumption.
//
// Shares serialize as "<index>-<hex>", with the hex value zero-padded to
// the fixed field width so share strings have a stable length. The field
// math cannot detect shares that come from different split operations, so
// Split additionally tags each share with a random generation identifier,
// carried out-of-band from the wire string, and Reconstruct rejects mixed
// generations when tags are present.
package shamir

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// fieldPrimeHex is the 1536-bit MODP prime from RFC 3526, group 5.
const fieldPrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA237327FFFFFFFFFFFFFFFF"

const (
	// FieldSize is the field's byte width; share values are zero-padded to
	// this length when serialized.
	FieldSize = 192

	// MaxSecretSize caps the secret length so it always maps injectively
	// into a field element.
	MaxSecretSize = 64

	// generationSize is the length of the random generation tag in bytes.
	generationSize = 8
)

var fieldPrime, _ = new(big.Int).SetString(fieldPrimeHex, 16)

// Share is one point of a split. Index and Value are the wire content;
// Threshold, Total, SecretSize and Generation are dealer-side metadata
// distributed alongside the share string, not encoded in it.
type Share struct {
	Index      int
	Value      *big.Int
	Threshold  int
	Total      int
	SecretSize int
	Generation string
}

// String serializes the share as "<index>-<hex>" with a fixed-width value.
func (s Share) String() string {
	return fmt.Sprintf("%02d-%0*x", s.Index, FieldSize*2, s.Value)
}

// ParseShare parses the "<index>-<hex>" wire format. Metadata fields are
// left zero; callers supply them to Reconstruct via Params.
func ParseShare(raw string) (Share, error) {
	indexStr, valueStr, found := strings.Cut(raw, "-")
	if !found {
		return Share{}, fmt.Errorf("malformed share %q: missing separator", raw)
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 1 {
		return Share{}, fmt.Errorf("malformed share: index must be a positive integer")
	}

	if len(valueStr) != FieldSize*2 {
		return Share{}, fmt.Errorf("malformed share: value must be %d hex characters", FieldSize*2)
	}

	value, ok := new(big.Int).SetString(valueStr, 16)
	if !ok {
		return Share{}, fmt.Errorf("malformed share: value is not valid hex")
	}

	return Share{Index: index, Value: value}, nil
}

// Split splits secret into total shares of which any threshold reconstruct
// it. The polynomial coefficients are drawn uniformly from the field and
// zeroed before returning.
func Split(secret []byte, threshold, total int) ([]Share, error) {
	if len(secret) == 0 || len(secret) > MaxSecretSize {
		return nil, fmt.Errorf("secret must be between 1 and %d bytes", MaxSecretSize)
	}
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2")
	}
	if total < threshold {
		return nil, fmt.Errorf("total shares must be at least the threshold")
	}

	generation, err := cryptoutils.RandomBytes(generationSize)
	if err != nil {
		return nil, err
	}
	generationHex := fmt.Sprintf("%x", generation)

	// f(x) = secret + a1*x + ... + a_{t-1}*x^{t-1}
	coefficients := make([]*big.Int, threshold)
	coefficients[0] = new(big.Int).SetBytes(secret)
	for i := 1; i < threshold; i++ {
		coefficients[i], err = rand.Int(rand.Reader, fieldPrime)
		if err != nil {
			return nil, fmt.Errorf("failed to sample coefficient: %w", err)
		}
	}
	defer func() {
		for _, c := range coefficients {
			c.SetInt64(0)
		}
	}()

	shares := make([]Share, 0, total)
	for i := 1; i <= total; i++ {
		shares = append(shares, Share{
			Index:      i,
			Value:      evaluate(coefficients, i),
			Threshold:  threshold,
			Total:      total,
			SecretSize: len(secret),
			Generation: generationHex,
		})
	}
	return shares, nil
}

// evaluate computes f(x) mod p by Horner's rule.
func evaluate(coefficients []*big.Int, x int) *big.Int {
	xInt := big.NewInt(int64(x))
	result := new(big.Int)
	for i := len(coefficients) - 1; i >= 0; i-- {
		result.Mul(result, xInt)
		result.Add(result, coefficients[i])
		result.Mod(result, fieldPrime)
	}
	return result
}

// Params carries the dealer metadata needed to reconstruct from parsed wire
// shares.
type Params struct {
	Threshold  int
	SecretSize int
}

// Reconstruct recovers the secret from shares carrying their own metadata,
// as returned by Split. Supplying more than threshold shares is fine;
// fewer than threshold distinct indexes fails with ErrInsufficientShares.
func Reconstruct(shares []Share) ([]byte, error) {
	threshold, secretSize := 0, 0
	for _, s := range shares {
		if s.Threshold > threshold {
			threshold = s.Threshold
		}
		if s.SecretSize > secretSize {
			secretSize = s.SecretSize
		}
	}
	if threshold == 0 {
		return nil, fmt.Errorf("shares carry no threshold metadata: use ReconstructWithParams")
	}
	return ReconstructWithParams(shares, Params{Threshold: threshold, SecretSize: secretSize})
}

// ReconstructWithParams recovers the secret from shares using explicitly
// supplied dealer metadata, for shares parsed back from their wire form.
func ReconstructWithParams(shares []Share, params Params) ([]byte, error) {
	if params.Threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2")
	}

	distinct, err := distinctShares(shares)
	if err != nil {
		return nil, err
	}
	if len(distinct) < params.Threshold {
		return nil, fmt.Errorf("%w: have %d distinct shares, need %d",
			interfaces.ErrInsufficientShares, len(distinct), params.Threshold)
	}

	secretInt := interpolateAtZero(distinct)
	defer secretInt.SetInt64(0)

	size := params.SecretSize
	if size == 0 {
		size = len(secretInt.Bytes())
	}
	if len(secretInt.Bytes()) > size {
		return nil, fmt.Errorf("reconstructed value exceeds expected secret size")
	}

	secret := make([]byte, size)
	secretInt.FillBytes(secret)
	return secret, nil
}

// distinctShares deduplicates by index, rejecting conflicting values for
// one index and mixed generation tags.
func distinctShares(shares []Share) ([]Share, error) {
	generation := ""
	byIndex := make(map[int]Share)
	for _, s := range shares {
		if s.Index < 1 || s.Value == nil {
			return nil, fmt.Errorf("invalid share: missing index or value")
		}
		if s.Generation != "" {
			if generation != "" && s.Generation != generation {
				return nil, interfaces.ErrStaleShares
			}
			generation = s.Generation
		}
		if existing, ok := byIndex[s.Index]; ok {
			if existing.Value.Cmp(s.Value) != 0 {
				return nil, fmt.Errorf("conflicting values for share index %d", s.Index)
			}
			continue
		}
		byIndex[s.Index] = s
	}

	out := make([]Share, 0, len(byIndex))
	for _, s := range byIndex {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// interpolateAtZero computes f(0) by Lagrange interpolation over the
// supplied points. Extra points beyond the polynomial degree are redundant
// but still interpolate to the same constant term.
func interpolateAtZero(shares []Share) *big.Int {
	result := new(big.Int)
	numerator := new(big.Int)
	denominator := new(big.Int)
	term := new(big.Int)

	for j, sj := range shares {
		numerator.SetInt64(1)
		denominator.SetInt64(1)
		xj := big.NewInt(int64(sj.Index))

		for m, sm := range shares {
			if m == j {
				continue
			}
			xm := big.NewInt(int64(sm.Index))
			// numerator *= (0 - x_m); denominator *= (x_j - x_m)
			numerator.Mul(numerator, new(big.Int).Neg(xm))
			numerator.Mod(numerator, fieldPrime)
			denominator.Mul(denominator, new(big.Int).Sub(xj, xm))
			denominator.Mod(denominator, fieldPrime)
		}

		term.ModInverse(denominator, fieldPrime)
		term.Mul(term, numerator)
		term.Mul(term, sj.Value)
		term.Mod(term, fieldPrime)

		result.Add(result, term)
		result.Mod(result, fieldPrime)
	}
	return result
}
