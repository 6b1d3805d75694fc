package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

const defaultAPITimeout = 10 * time.Second

// APISource reads pool rates from an APR endpoint serving GET {base}/apr/{pool}.
type APISource struct {
	baseURL    string
	pool       string
	httpClient *http.Client
}

// NewAPISource creates a rate source for one pool of the APR endpoint.
func NewAPISource(baseURL, pool string) (*APISource, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, errors.Wrapf(err, "invalid apr api url %q", baseURL)
	}
	if pool == "" {
		return nil, errors.New("pool name is empty")
	}
	return &APISource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pool:       pool,
		httpClient: &http.Client{Timeout: defaultAPITimeout},
	}, nil
}

type aprResponse struct {
	Success bool            `json:"success"`
	Data    domain.AprEntry `json:"data"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message"`
}

// Quote implements Source.
func (s *APISource) Quote(ctx context.Context, asset common.Address) (domain.AprQuote, error) {
	endpoint := fmt.Sprintf("%s/apr/%s", s.baseURL, url.PathEscape(s.pool))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AprQuote{}, errors.Wrap(err, "failed to create HTTP request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.AprQuote{}, domain.NewOpError("aprApi.get", endpoint, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AprQuote{}, domain.NewOpError("aprApi.get", endpoint, domain.ErrNetwork, err)
	}

	var parsed aprResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.AprQuote{}, errors.Wrapf(err, "failed to unmarshal apr response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.AprQuote{}, domain.NewOpError("aprApi.get", s.pool, domain.ErrPoolNotFound, errors.New(parsed.Message))
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		return domain.AprQuote{}, domain.NewOpError("aprApi.get", endpoint, domain.ErrNetwork,
			errors.Errorf("apr api returned status %d: %s: %s", resp.StatusCode, parsed.Error, parsed.Message))
	}

	quotedAt := parsed.Data.Timestamp
	if quotedAt.IsZero() {
		quotedAt = time.Now().UTC()
	}
	return domain.AprQuote{
		Asset:      asset,
		Pool:       s.pool,
		DepositApr: parsed.Data.DepositApr,
		BorrowApr:  parsed.Data.BorrowApr,
		QuotedAt:   quotedAt,
	}, nil
}
