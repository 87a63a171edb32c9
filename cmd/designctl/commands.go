package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"designgraph/domain/policy"
	"designgraph/domain/view"
	"designgraph/infrastructure/policyfile"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "designctl",
		Short:         "Offline tools for design-graph views and tenant policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSerializeCommand(), newDecideCommand())
	return root
}

func newSerializeCommand() *cobra.Command {
	var positions bool

	cmd := &cobra.Command{
		Use:   "serialize [view.json]",
		Short: "Render a view document as canonical text",
		Long: "Reads a view as returned by GET /api/v1/sessions/{id}/view and prints\n" +
			"its canonical text form. Reads stdin when no file is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			var v view.View
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("decode view: %w", err)
			}
			if positions {
				v = view.EnsurePositions(v)
			}

			_, err = io.WriteString(cmd.OutOrStdout(), view.Serialize(v))
			return err
		},
	}
	cmd.Flags().BoolVar(&positions, "positions", false, "lay out unpositioned views on the grid first")
	return cmd
}

type decideOutput struct {
	TenantID   string          `json:"tenant_id"`
	ActionType string          `json:"action_type"`
	Confidence float64         `json:"confidence"`
	Known      bool            `json:"known_tenant"`
	Decision   policy.Decision `json:"decision"`
}

func newDecideCommand() *cobra.Command {
	var (
		file       string
		tenantID   string
		actionType string
		confidence float64
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Evaluate an action against a tenant in a policy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if confidence < 0 || confidence > 1 {
				return fmt.Errorf("confidence must be within [0,1], got %v", confidence)
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			docs, err := policyfile.Parse(data)
			if err != nil {
				return err
			}

			doc, known := docs[tenantID]
			if !known {
				doc = policy.Defaults(tenantID)
			}
			out := decideOutput{
				TenantID:   tenantID,
				ActionType: actionType,
				Confidence: confidence,
				Known:      known,
				Decision:   policy.Decide(doc, actionType, confidence),
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			if !known {
				fmt.Fprintf(w, "tenant %s not in %s, using defaults\n", tenantID, file)
			}
			_, err = fmt.Fprintf(w, "%s (%s)\n", out.Decision.Result, out.Decision.Reason)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "policy YAML file")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVarP(&actionType, "action", "a", "", "action type")
	cmd.Flags().Float64VarP(&confidence, "confidence", "c", 0, "caller confidence in [0,1]")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
