package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	ConfigPath string
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:   "segensemble",
	Short: "Ensemble inference for brain tumour segmentation",
	Long: `segensemble runs an ensemble of pretrained 3D segmentation networks over
BraTS-style MRI cases and writes one label map per patient:

  4  enhancing tumour
  1  necrotic / non-enhancing tumour core
  2  peritumoral edema
  0  background

Models are declared as training config files, each with its ONNX checkpoint
(model_best.onnx) beside it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "segensemble.yaml", "run configuration file")
	rootCmd.AddCommand(newRunCmd(), newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
