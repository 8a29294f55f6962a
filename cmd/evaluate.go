package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credcheck/internal/evaluation"
	"github.com/sells-group/credcheck/internal/model"
)

var (
	evalCredential string
	evalResume     string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one credential against a resume",
	Long:  "Runs the full pipeline on a credential document and resume, stores the report, and prints the result as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEvaluation(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.Evaluate(ctx, evaluation.Request{
			Files: model.FilePaths{
				CredentialPath: evalCredential,
				ResumePath:     evalResume,
			},
			CredentialName: filepath.Base(evalCredential),
			ResumeName:     filepath.Base(evalResume),
		})
		if err != nil {
			if report != nil {
				fmt.Fprintf(os.Stderr, "report %s failed\n", report.ID)
			}
			return eris.Wrap(err, "evaluate")
		}

		fmt.Fprintf(os.Stderr, "report %s completed\n", report.ID)
		return writeResult(cmd.OutOrStdout(), report.Result)
	},
}

func writeResult(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(result), "write result")
}

func init() {
	evaluateCmd.Flags().StringVar(&evalCredential, "credential", "", "path to the credential document")
	evaluateCmd.Flags().StringVar(&evalResume, "resume", "", "path to the resume")
	_ = evaluateCmd.MarkFlagRequired("credential")
	_ = evaluateCmd.MarkFlagRequired("resume")
	addSeedFlag(evaluateCmd)
	rootCmd.AddCommand(evaluateCmd)
}
