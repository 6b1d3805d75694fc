package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/vaultpilot/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collected by the wizard.
type Answers struct {
	Simulate        bool
	RPCURL          string
	SafeAddress     string
	VaultAddress    string
	AssetSymbol     string
	AssetAddress    string
	AssetDecimals   string
	IntervalMinutes string
	Threshold       string
	VaultApr        string
	Backend         string
	Model           string
	APIURL          string
}

// DefaultAnswers pre-filled values of the wizard.
func DefaultAnswers() Answers {
	return Answers{
		RPCURL:          config.DefaultRPCURL,
		VaultAddress:    config.DefaultVaultAddress,
		AssetSymbol:     "USDC",
		AssetAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		AssetDecimals:   "6",
		IntervalMinutes: "60",
		Threshold:       "0.5",
		VaultApr:        "0",
		Backend:         config.BackendOpenAI,
	}
}

// BuildConfig turns wizard answers into the yaml config.
func BuildConfig(a Answers) (config.ConfigTmp, error) {
	decimals, err := strconv.ParseInt(a.AssetDecimals, 10, 32)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "asset decimals")
	}
	interval, err := strconv.ParseFloat(a.IntervalMinutes, 64)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "check interval")
	}
	threshold, err := strconv.ParseFloat(a.Threshold, 64)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "threshold")
	}
	vaultApr, err := strconv.ParseFloat(a.VaultApr, 64)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "vault apr")
	}

	token := config.TokenTmp{Symbol: strings.ToUpper(a.AssetSymbol), Address: a.AssetAddress, Decimals: int32(decimals)}
	cfg := config.ConfigTmp{
		RPCURL:               a.RPCURL,
		SafeAddress:          a.SafeAddress,
		VaultAddress:         a.VaultAddress,
		Asset:                &token,
		Tokens:               []config.TokenTmp{token},
		CheckIntervalMinutes: &interval,
		ThresholdPercent:     &threshold,
		VaultApr:             vaultApr,
		Agent: config.AgentTmp{
			Backend: a.Backend,
			Model:   a.Model,
			APIURL:  a.APIURL,
		},
		Simulate: a.Simulate,
	}

	if a.Simulate {
		cfg.SimulateBalance = config.DefaultSimulateBalance
		cfg.Pools = []config.PoolTmp{
			{Name: "AAVE", RateSource: config.RateSourceStatic, DepositApr: 4.5, BorrowApr: 5.2},
			{Name: "BALANCER", RateSource: config.RateSourceStatic, DepositApr: 3.8, BorrowApr: 4.9},
		}
	} else {
		cfg.Pools = []config.PoolTmp{
			{Name: "AAVE", RateSource: config.RateSourceAave},
			{Name: "BALANCER", RateSource: config.RateSourceStatic, DepositApr: 3.8, BorrowApr: 4.9},
		}
	}
	return cfg, nil
}

// WriteConfig saves the yaml config to path.
func WriteConfig(path string, cfg config.ConfigTmp) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := DefaultAnswers()
	var confirm bool

	header := func(step string) {
		fmt.Print("\033[H\033[2J") // Clear screen
		fmt.Println(headerStyle.Render("VAULTPILOT CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(step))
	}

	header("STEP 1: MODE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Dry runs use an in-memory vault, nothing is signed.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[bool]().
				Title("Where should the agent act?").
				Options(
					huh.NewOption("On chain through the Safe wallet", false),
					huh.NewOption("Simulated vault (dry run)", true),
				).
				Value(&a.Simulate),
		),
	).Run()
	if err != nil {
		return err
	}

	if !a.Simulate {
		header("STEP 2: CHAIN")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("RPC URL").
					Value(&a.RPCURL),
				huh.NewInput().
					Title("Safe wallet address").
					Description("AGENT_PRIVATE_KEY must belong to an owner of this Safe").
					Value(&a.SafeAddress).
					Validate(validateAddress),
				huh.NewInput().
					Title("Vault contract address").
					Value(&a.VaultAddress).
					Validate(validateAddress),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	header("STEP 3: ASSET")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Vault asset symbol").
				Value(&a.AssetSymbol),
			huh.NewInput().
				Title("Vault asset address").
				Value(&a.AssetAddress).
				Validate(validateAddress),
			huh.NewInput().
				Title("Asset decimals").
				Description("0 reads decimals() from the token contract").
				Value(&a.AssetDecimals).
				Validate(validateNumber),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 4: POLICY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Check interval, minutes").
				Value(&a.IntervalMinutes).
				Validate(validateNumber),
			huh.NewInput().
				Title("Reallocation threshold, percentage points").
				Value(&a.Threshold).
				Validate(validateNumber),
			huh.NewInput().
				Title("APR of funds idle in the vault").
				Value(&a.VaultApr).
				Validate(validateNumber),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 5: AGENT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Decision backend").
				Options(
					huh.NewOption("OpenAI-compatible (LLM_API_KEY)", config.BackendOpenAI),
					huh.NewOption("Anthropic (ANTHROPIC_API_KEY)", config.BackendAnthropic),
					huh.NewOption("Deterministic policy, no model", config.BackendPolicy),
				).
				Value(&a.Backend),
			huh.NewInput().
				Title("Model name").
				Description("Empty keeps the backend default").
				Value(&a.Model),
			huh.NewInput().
				Title("API URL").
				Description("Empty keeps the backend default").
				Value(&a.APIURL),
		),
	).Run()
	if err != nil {
		return err
	}

	header("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Simulate: %t\nVault: %s\nAsset: %s (%s)\nInterval: %s min\nThreshold: %s%%\nBackend: %s\n",
		a.Simulate, a.VaultAddress, a.AssetSymbol, a.AssetAddress, a.IntervalMinutes, a.Threshold, a.Backend,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return err
	}
	if err := WriteConfig(path, cfg); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\nConfiguration saved to %s", path)))
	return nil
}

func validateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("must be a hex address")
	}
	return nil
}

func validateNumber(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if v < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
