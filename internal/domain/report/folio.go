package report

import (
	"context"
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/labcore/labcore/internal/platform/apperror"
)

const (
	folioAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	folioLength   = 6

	// Collisions are near-impossible at 36^6 candidates, so hitting the cap
	// means the randomness source or the store is broken. Fail fast instead
	// of looping.
	maxFolioAttempts = 20
)

// FolioPattern matches a well-formed folio.
var FolioPattern = regexp.MustCompile(`^#[A-Z0-9]{6}$`)

// folioIndex answers whether a candidate folio is already taken.
type folioIndex interface {
	ExistsByFolio(ctx context.Context, folio string) (bool, error)
}

// FolioGenerator mints unique report folios. The existence pre-check is a
// best-effort filter; the unique index on the reports table is the real
// guarantee, and insert-time violations are retried by the caller.
type FolioGenerator struct {
	index folioIndex
}

func NewFolioGenerator(index folioIndex) *FolioGenerator {
	return &FolioGenerator{index: index}
}

// Generate returns a folio unused at the moment of return.
func (g *FolioGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxFolioAttempts; attempt++ {
		folio, err := randomFolio()
		if err != nil {
			return "", apperror.Wrap(apperror.CodeInternal, err, "generate folio")
		}
		taken, err := g.index.ExistsByFolio(ctx, folio)
		if err != nil {
			return "", err
		}
		if !taken {
			return folio, nil
		}
	}
	return "", apperror.New(apperror.CodeFolioSpaceExhausted,
		"could not find a free folio after %d attempts", maxFolioAttempts)
}

func randomFolio() (string, error) {
	buf := make([]byte, folioLength)
	max := big.NewInt(int64(len(folioAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = folioAlphabet[n.Int64()]
	}
	return "#" + string(buf), nil
}
