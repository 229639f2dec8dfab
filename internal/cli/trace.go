package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/config"
)

var traceAuditLog string

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().StringVar(&traceAuditLog, "audit-log", "", "Path to the flight recorder file (defaults to configured location)")
}

var traceCmd = &cobra.Command{
	Use:   "trace <trace-id>",
	Short: "Show all flight recorder entries for a trace",
	Long:  "Scans the flight recorder and prints every record sharing the given\ntrace id, in the order they were appended.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	path := traceAuditLog
	if path == "" {
		path = config.Default().AuditLog
	}

	log, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer log.Close()

	records, err := log.Trace(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("no records for trace %s\n", args[0])
		return nil
	}

	for _, rec := range records {
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}
