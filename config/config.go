package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// rate sources of a pool
const (
	RateSourceAave   = "aave"
	RateSourceAPI    = "api"
	RateSourceStatic = "static"
)

// decision collaborator backends
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendPolicy    = "policy"
)

const (
	DefaultRPCURL           = "https://api.avax.network/ext/bc/C/rpc"
	DefaultVaultAddress     = "0x50109a09aA3Ff67Ae594802468328e16bf85eb64"
	DefaultAaveDataProvider = "0x69FA688f1Dc47d4B5d8029D5a35FB7a548310654"
	DefaultOpenAIURL        = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAIModel      = "gpt-4"
	DefaultAnthropicModel   = "claude-sonnet-4-5"
	DefaultCheckInterval    = 60 * time.Minute
	DefaultThresholdPercent = 0.5
	DefaultMaxTurns         = 12
	DefaultHistoryLimit     = 20
	DefaultThreadID         = "automated-yield-optimization"
	DefaultStorageDir       = "./data"
	DefaultHTTPAddr         = ":3000"
	DefaultSimulateBalance  = "1000"
)

// Pool configured lending venue the vault routes funds into.
type Pool struct {
	Name       string
	RateSource string
	DepositApr float64
	BorrowApr  float64
}

// Agent decision collaborator settings.
type Agent struct {
	Backend      string
	Model        string
	APIURL       string
	MaxTurns     int
	ThreadID     string
	HistoryLimit int
}

// Config settings of one vault agent.
type Config struct {
	RPCURL           string
	ChainID          int64 // 0 means discovered from the endpoint
	SafeAddress      common.Address
	VaultAddress     common.Address
	AaveDataProvider common.Address
	Asset            domain.Token
	Tokens           []domain.Token
	CheckInterval    time.Duration
	ThresholdPercent float64
	VaultApr         float64
	Pools            []Pool
	AprAPIURL        string
	Agent            Agent
	StorageDir       string
	HTTPAddr         string
	AprData          map[string]domain.AprEntry

	// Simulate runs against an in-memory vault instead of the chain.
	Simulate        bool
	SimulateBalance decimal.Decimal

	// secrets, environment only
	PrivateKey      string
	LLMAPIKey       string
	AnthropicAPIKey string
}

// TokenTmp yaml representation of a token.
type TokenTmp struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals,omitempty"`
}

// PoolTmp yaml representation of a pool.
type PoolTmp struct {
	Name       string  `yaml:"name"`
	RateSource string  `yaml:"rate_source"`
	DepositApr float64 `yaml:"deposit_apr,omitempty"`
	BorrowApr  float64 `yaml:"borrow_apr,omitempty"`
}

// AgentTmp yaml representation of the agent settings.
type AgentTmp struct {
	Backend      string `yaml:"backend"`
	Model        string `yaml:"model"`
	APIURL       string `yaml:"api_url"`
	MaxTurns     int    `yaml:"max_turns"`
	ThreadID     string `yaml:"thread_id"`
	HistoryLimit int    `yaml:"history_limit"`
}

// ConfigTmp yaml representation of Config.
type ConfigTmp struct {
	RPCURL               string                     `yaml:"rpc_url"`
	ChainID              int64                      `yaml:"chain_id,omitempty"`
	SafeAddress          string                     `yaml:"safe_address"`
	VaultAddress         string                     `yaml:"vault_address"`
	AaveDataProvider     string                     `yaml:"aave_data_provider"`
	Asset                *TokenTmp                  `yaml:"asset,omitempty"`
	Tokens               []TokenTmp                 `yaml:"tokens"`
	CheckIntervalMinutes *float64                   `yaml:"check_interval_minutes,omitempty"`
	ThresholdPercent     *float64                   `yaml:"threshold_percent,omitempty"`
	VaultApr             float64                    `yaml:"vault_apr"`
	Pools                []PoolTmp                  `yaml:"pools"`
	AprAPIURL            string                     `yaml:"apr_api_url"`
	Agent                AgentTmp                   `yaml:"agent"`
	StorageDir           string                     `yaml:"storage_dir"`
	HTTPAddr             string                     `yaml:"http_addr"`
	AprData              map[string]domain.AprEntry `yaml:"apr_data"`
	Simulate             bool                       `yaml:"simulate"`
	SimulateBalance      string                     `yaml:"simulate_balance"`
}

// Load reads the config with Read and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read reads the yaml config at path, then applies environment overrides and secrets.
// A .env file in the working directory is loaded first when present.
func Read(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, errors.Wrap(err, "parse config")
		}
	}

	applyEnv(&tmp)
	cfg, err := fromTmp(tmp)
	if err != nil {
		return Config{}, err
	}
	cfg.PrivateKey = os.Getenv("AGENT_PRIVATE_KEY")
	cfg.LLMAPIKey = firstNonEmpty(os.Getenv("LLM_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	return cfg, nil
}

func applyEnv(tmp *ConfigTmp) {
	if v := os.Getenv("RPC_URL"); v != "" {
		tmp.RPCURL = v
	}
	if v := os.Getenv("SAFE_ADDRESS"); v != "" {
		tmp.SafeAddress = v
	}
	if v := os.Getenv("VAULT_ADDRESS"); v != "" {
		tmp.VaultAddress = v
	}
}

func fromTmp(c ConfigTmp) (Config, error) {
	cfg := Config{
		RPCURL:        firstNonEmpty(c.RPCURL, DefaultRPCURL),
		ChainID:       c.ChainID,
		VaultApr:      c.VaultApr,
		AprAPIURL:     c.AprAPIURL,
		StorageDir:    firstNonEmpty(c.StorageDir, DefaultStorageDir),
		HTTPAddr:      firstNonEmpty(c.HTTPAddr, DefaultHTTPAddr),
		AprData:       c.AprData,
		Simulate:      c.Simulate,
		CheckInterval: DefaultCheckInterval,
	}

	var err error
	if cfg.VaultAddress, err = parseAddress("vault_address", firstNonEmpty(c.VaultAddress, DefaultVaultAddress)); err != nil {
		return Config{}, err
	}
	if cfg.AaveDataProvider, err = parseAddress("aave_data_provider", firstNonEmpty(c.AaveDataProvider, DefaultAaveDataProvider)); err != nil {
		return Config{}, err
	}
	if c.SafeAddress != "" {
		if cfg.SafeAddress, err = parseAddress("safe_address", c.SafeAddress); err != nil {
			return Config{}, err
		}
	}

	for i, t := range c.Tokens {
		token, err := parseToken(fmt.Sprintf("tokens[%d]", i), t)
		if err != nil {
			return Config{}, err
		}
		cfg.Tokens = append(cfg.Tokens, token)
	}
	switch {
	case c.Asset != nil:
		if cfg.Asset, err = parseToken("asset", *c.Asset); err != nil {
			return Config{}, err
		}
	case len(cfg.Tokens) > 0:
		cfg.Asset = cfg.Tokens[0]
	}

	if c.CheckIntervalMinutes != nil {
		cfg.CheckInterval = time.Duration(*c.CheckIntervalMinutes * float64(time.Minute))
	}
	cfg.ThresholdPercent = DefaultThresholdPercent
	if c.ThresholdPercent != nil {
		cfg.ThresholdPercent = *c.ThresholdPercent
	}

	for _, p := range c.Pools {
		cfg.Pools = append(cfg.Pools, Pool{
			Name:       strings.ToUpper(strings.TrimSpace(p.Name)),
			RateSource: strings.ToLower(firstNonEmpty(p.RateSource, RateSourceStatic)),
			DepositApr: p.DepositApr,
			BorrowApr:  p.BorrowApr,
		})
	}
	if len(cfg.Pools) == 0 {
		cfg.Pools = []Pool{
			{Name: "AAVE", RateSource: RateSourceAave},
			{Name: "BALANCER", RateSource: RateSourceStatic, DepositApr: 3.8, BorrowApr: 4.9},
		}
	}

	cfg.SimulateBalance = decimal.RequireFromString(DefaultSimulateBalance)
	if c.SimulateBalance != "" {
		if cfg.SimulateBalance, err = decimal.NewFromString(c.SimulateBalance); err != nil {
			return Config{}, fmt.Errorf("incorrect 'simulate_balance' param in yaml config (must be a decimal), error: %w", err)
		}
	}

	cfg.Agent = Agent{
		Backend:      strings.ToLower(firstNonEmpty(c.Agent.Backend, BackendOpenAI)),
		Model:        c.Agent.Model,
		APIURL:       c.Agent.APIURL,
		MaxTurns:     c.Agent.MaxTurns,
		ThreadID:     firstNonEmpty(c.Agent.ThreadID, DefaultThreadID),
		HistoryLimit: c.Agent.HistoryLimit,
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = DefaultMaxTurns
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = DefaultHistoryLimit
	}
	switch cfg.Agent.Backend {
	case BackendOpenAI:
		cfg.Agent.Model = firstNonEmpty(cfg.Agent.Model, DefaultOpenAIModel)
		cfg.Agent.APIURL = firstNonEmpty(cfg.Agent.APIURL, DefaultOpenAIURL)
	case BackendAnthropic:
		cfg.Agent.Model = firstNonEmpty(cfg.Agent.Model, DefaultAnthropicModel)
	}

	return cfg, nil
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if len(c.Tokens) == 0 {
		return errors.New("at least one token to monitor is required")
	}
	if c.Asset.Address == (common.Address{}) {
		return errors.New("vault asset address is required")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval_minutes must be positive, got %s", c.CheckInterval)
	}
	if c.ThresholdPercent < 0 {
		return fmt.Errorf("threshold_percent must not be negative, got %v", c.ThresholdPercent)
	}
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}

	seen := make(map[string]struct{}, len(c.Pools))
	for _, p := range c.Pools {
		if p.Name == "" {
			return errors.New("pool name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("pool %s is configured twice", p.Name)
		}
		seen[p.Name] = struct{}{}

		switch p.RateSource {
		case RateSourceStatic:
		case RateSourceAave:
			if c.Simulate {
				return fmt.Errorf("pool %s: aave rate source needs the chain, use static or api in simulate mode", p.Name)
			}
		case RateSourceAPI:
			if c.AprAPIURL == "" {
				return fmt.Errorf("pool %s: apr_api_url is required for the api rate source", p.Name)
			}
		default:
			return fmt.Errorf("pool %s: unknown rate_source %q", p.Name, p.RateSource)
		}
	}

	switch c.Agent.Backend {
	case BackendOpenAI:
		if c.LLMAPIKey == "" {
			return errors.New("LLM_API_KEY is required for the openai agent backend")
		}
	case BackendAnthropic:
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for the anthropic agent backend")
		}
	case BackendPolicy:
	default:
		return fmt.Errorf("unknown agent backend %q", c.Agent.Backend)
	}

	if c.Simulate {
		return nil
	}
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if c.SafeAddress == (common.Address{}) {
		return errors.New("safe_address is required")
	}
	if c.PrivateKey == "" {
		return errors.New("AGENT_PRIVATE_KEY is required")
	}
	return nil
}

// Pool returns the configured pool by name, matching case-insensitively.
func (c Config) Pool(name string) (Pool, bool) {
	for _, p := range c.Pools {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Pool{}, false
}

func parseToken(field string, t TokenTmp) (domain.Token, error) {
	if t.Symbol == "" {
		return domain.Token{}, fmt.Errorf("%s: symbol is required", field)
	}
	addr, err := parseAddress(field+".address", t.Address)
	if err != nil {
		return domain.Token{}, err
	}
	if t.Decimals < 0 || t.Decimals > 36 {
		return domain.Token{}, fmt.Errorf("%s: decimals out of range: %d", field, t.Decimals)
	}
	return domain.Token{Symbol: strings.ToUpper(t.Symbol), Address: addr, Decimals: t.Decimals}, nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a hex address): %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
