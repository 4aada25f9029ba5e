package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fraud-pipeline/internal/etl"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report the class balance of the feature view",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("etl"); err != nil {
			return err
		}

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		rep, err := etl.Validate(ctx, wh, cfg.ETL.MinFraudRows)
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		formatValidation(os.Stdout, rep)
		if validateStrict && !rep.Sufficient {
			return eris.Errorf("validate: %d fraud rows, need at least %d", rep.Fraud, rep.MinFraudRows)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "exit non-zero when fraud rows are below etl.min_fraud_rows")
	rootCmd.AddCommand(validateCmd)
}

// formatValidation writes a class-balance report to out.
func formatValidation(out io.Writer, rep *etl.ValidationReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total rows:\t%d\n", rep.Total)
	_, _ = fmt.Fprintf(w, "Fraud:\t%d (%.3f%%)\n", rep.Fraud, rep.FraudRate()*100)
	_, _ = fmt.Fprintf(w, "Legit:\t%d\n", rep.Legit)
	status := "ok"
	if !rep.Sufficient {
		status = fmt.Sprintf("insufficient (min %d)", rep.MinFraudRows)
	}
	_, _ = fmt.Fprintf(w, "Fraud rows:\t%s\n", status)
	_ = w.Flush()
}
