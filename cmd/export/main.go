// Command export converts a saved training checkpoint to an ONNX model
// file for inference tooling.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/medvision/volseg/checkpoints"
)

func main() {
	saveDir := flag.String("save-dir", "", "training run directory holding the checkpoints")
	epoch := flag.Int("epoch", -1, "checkpoint epoch to export (-1 for the latest)")
	out := flag.String("out", "", "output path for the ONNX model")
	flag.Parse()

	if *saveDir == "" {
		fatal("a training run directory is required (-save-dir)")
	}
	if *out == "" {
		fatal("an output path is required (-out)")
	}

	store := checkpoints.NewStore(*saveDir)

	target := *epoch
	if target < 0 {
		latest, err := store.LatestEpoch()
		if err != nil {
			fatal("no checkpoints under %s: %v", *saveDir, err)
		}
		target = latest
	}

	checkpoint, _, err := store.Load(target)
	if err != nil {
		fatal("failed to load checkpoint for epoch %d: %v", target, err)
	}

	exporter := checkpoints.NewONNXExporter()
	if err := exporter.ExportToONNX(checkpoint, *out); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Exported epoch %d (%d tensors) to %s\n", target, len(checkpoint.Weights), *out)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "export: "+format+"\n", args...)
	os.Exit(1)
}
