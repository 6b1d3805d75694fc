// Command vaultpilot monitors lending pool rates for a DeFi vault and reallocates
// its funds through a multisig wallet when a better rate is available.
//
// Usage:
//
//	vaultpilot run --config config.yaml
//	vaultpilot once --config config.yaml
//	vaultpilot apr --addr :3000
//	vaultpilot setup --config config.yaml
//
// Environment variables:
//
//	AGENT_PRIVATE_KEY  owner key of the Safe wallet
//	LLM_API_KEY        OpenAI-compatible agent backend
//	ANTHROPIC_API_KEY  Anthropic agent backend
//	RPC_URL, SAFE_ADDRESS, VAULT_ADDRESS override the config file
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
