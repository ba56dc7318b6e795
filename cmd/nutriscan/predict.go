package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var predictUser string

var predictCmd = &cobra.Command{
	Use:   "predict IMAGE",
	Short: "Classify one image and print the mapped deficiency",
	Long: `Run the full pipeline on a local image. The classifier is provisioned
and loaded on demand. With --user the result is also recorded for that user.`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVarP(&predictUser, "user", "u", "", "Record the result under this user email")
}

func runPredict(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	local := cfg
	local.Model.LoadOnDemand = true
	a, err := newApp(cmd.Context(), local, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	result, recordID, err := a.service.PredictFor(cmd.Context(), predictUser, raw)
	if err != nil {
		return err
	}
	out := map[string]any{
		"predicted_disease":  result.PredictedDisease,
		"vitamin_deficiency": result.MappedDeficiency,
		"confidence":         result.Confidence,
	}
	if recordID > 0 {
		out["record_id"] = recordID
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
