package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	compensateAddr string
	compensateSaga bool
)

func init() {
	rootCmd.AddCommand(compensateCmd)
	compensateCmd.Flags().StringVar(&compensateAddr, "addr", "http://localhost:8777", "Address of a running sidecar")
	compensateCmd.Flags().BoolVar(&compensateSaga, "saga", false, "Treat the argument as a saga id and roll back all hops in reverse order")
}

var compensateCmd = &cobra.Command{
	Use:   "compensate <transaction-id>",
	Short: "Undo a previously forwarded reversible call",
	Long:  "Asks a running sidecar to invoke the target's compensation endpoint\nfor the given transaction. With --saga, rolls back every hop of a\nmulti-agent transaction in reverse call order.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompensate,
}

func runCompensate(cmd *cobra.Command, args []string) error {
	url := compensateAddr + "/compensate/" + args[0]
	if compensateSaga {
		url = compensateAddr + "/compensate/saga/" + args[0]
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("compensation did not complete (HTTP %d)", resp.StatusCode)
	}
	return nil
}
