package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/inspect"
	"github.com/ppiankov/trustgate/internal/manifest"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
)

var (
	checkManifest string
	checkPayload  string
	checkPolicy   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkManifest, "manifest", "", "Path to the target's manifest JSON (omit for untrusted default)")
	checkCmd.Flags().StringVar(&checkPayload, "payload", "", "Path to the payload file ('-' for stdin)")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML")
}

var checkCmd = &cobra.Command{
	Use:   "check <agent-id>",
	Short: "Dry-run a call decision without any network traffic",
	Long:  "Scores the given manifest, inspects the payload, and prints the\nallow/warn/block decision. Nothing is forwarded or recorded.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	agentID := args[0]

	m := manifest.Untrusted(agentID)
	if checkManifest != "" {
		data, err := os.ReadFile(checkManifest)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		m, err = manifest.Parse(data, agentID)
		if err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
	}

	var payload []byte
	switch checkPayload {
	case "":
	case "-":
		var err error
		payload, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	default:
		var err error
		payload, err = os.ReadFile(checkPayload)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	}

	cfg, err := policy.LoadConfig(checkPolicy)
	if err != nil {
		return err
	}

	score := trust.Score(m)
	findings, inspErr := inspect.Inspect(payload)
	decision := policy.Evaluate(policy.Input{
		Manifest:         m,
		Score:            score,
		Findings:         findings,
		InspectionFailed: inspErr != nil,
	}, cfg)

	out := map[string]any{
		"agent_id":    agentID,
		"trust_level": string(m.TrustLevel),
		"score":       score,
		"outcome":     string(decision.Outcome),
	}
	if decision.Code != "" {
		out["code"] = decision.Code
	}
	if decision.Reason != "" {
		out["reason"] = decision.Reason
	}
	if decision.Overridable {
		out["overridable"] = true
	}
	if inspErr != nil {
		out["inspection_failed"] = true
	}
	if len(findings) > 0 {
		out["findings"] = findings
	}

	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))

	if decision.Outcome == policy.Block {
		os.Exit(1)
	}
	return nil
}
