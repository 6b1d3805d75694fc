package oracle

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// Source quotes the APR of an asset in one placement.
type Source interface {
	Quote(ctx context.Context, asset common.Address) (domain.AprQuote, error)
}

// StaticSource fixed rates, used for the idle vault APR and for pools without an on-chain market.
type StaticSource struct {
	Pool       string
	DepositApr float64
	BorrowApr  float64
}

// Quote implements Source.
func (s StaticSource) Quote(_ context.Context, asset common.Address) (domain.AprQuote, error) {
	return domain.AprQuote{
		Asset:      asset,
		Pool:       s.Pool,
		DepositApr: s.DepositApr,
		BorrowApr:  s.BorrowApr,
		QuotedAt:   time.Now().UTC(),
	}, nil
}

// PoolSource rate source bound to a vault pool name.
type PoolSource struct {
	Pool   string
	Source Source
}

// Book quotes the current placement of vault funds together with every pool.
type Book struct {
	vault Source
	pools []PoolSource
}

// NewBook creates a rate book. vault quotes funds left idle in the vault.
func NewBook(vault Source, pools ...PoolSource) (*Book, error) {
	if vault == nil {
		return nil, errors.New("vault rate source is nil")
	}
	for _, p := range pools {
		if p.Pool == "" || p.Source == nil {
			return nil, errors.New("pool rate source needs a pool name and a source")
		}
	}
	return &Book{vault: vault, pools: pools}, nil
}

// Pools returns the configured pool names in order.
func (b *Book) Pools() []string {
	names := make([]string, 0, len(b.pools))
	for _, p := range b.pools {
		names = append(names, p.Pool)
	}
	return names
}

// VaultQuote quotes funds held in the vault itself.
func (b *Book) VaultQuote(ctx context.Context, asset common.Address) (domain.AprQuote, error) {
	quote, err := b.vault.Quote(ctx, asset)
	if err != nil {
		return domain.AprQuote{}, err
	}
	quote.Pool = string(domain.PlacementVault)
	return quote, nil
}

// PoolQuote quotes one pool, matching the name case-insensitively.
func (b *Book) PoolQuote(ctx context.Context, pool string, asset common.Address) (domain.AprQuote, error) {
	for _, p := range b.pools {
		if strings.EqualFold(p.Pool, pool) {
			quote, err := p.Source.Quote(ctx, asset)
			if err != nil {
				return domain.AprQuote{}, err
			}
			quote.Pool = p.Pool
			return quote, nil
		}
	}
	return domain.AprQuote{}, domain.NewOpError("poolQuote", pool, domain.ErrPoolNotFound, errors.Errorf("no rate source for pool %s", pool))
}

// Quotes returns the vault quote followed by one quote per pool.
func (b *Book) Quotes(ctx context.Context, asset common.Address) ([]domain.AprQuote, error) {
	quotes := make([]domain.AprQuote, 0, len(b.pools)+1)
	vaultQuote, err := b.VaultQuote(ctx, asset)
	if err != nil {
		return nil, err
	}
	quotes = append(quotes, vaultQuote)
	for _, p := range b.pools {
		quote, err := b.PoolQuote(ctx, p.Pool, asset)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}
