// Command editctl is a thin CLI driver for editengine: it opens a file,
// applies a filter, waits for the save to complete, and reports the
// outcome. It exists to demonstrate the engine's async contract end to
// end, not as a production editor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"editengine"
	"editengine/internal/qfilter"
)

func main() {
	var (
		brightness int
		contrast   int
		flip       bool
		outPath    string
		format     string
		timeout    time.Duration
	)

	flag.IntVar(&brightness, "brightness", 0, "Brightness delta to apply, -255..255")
	flag.IntVar(&contrast, "contrast", 0, "Contrast delta to apply, -100..100")
	flag.BoolVar(&flip, "flip", false, "Flip the image horizontally")
	flag.StringVar(&outPath, "out", "", "Output path (default: overwrite input)")
	flag.StringVar(&format, "format", "", "Output format: png or jpeg (default: keep input's)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait for the save to finish")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: editctl [flags] <input-image>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath := args[0]

	cfg := editengine.DefaultConfig()
	eng := editengine.New(cfg)
	eng.SetErrorSink(func(err *editengine.Error) {
		log.Printf("editengine: %v", err)
	})

	f := eng.OpenFile(inputPath, format)
	if !f.CanEdit() {
		log.Fatalf("cannot edit %s: state is %s", inputPath, f.State())
	}

	if brightness != 0 {
		if _, err := f.RunFilter(&qfilter.BrightnessFilter{Delta: brightness}); err != nil {
			log.Fatalf("brightness: %v", err)
		}
	}
	if contrast != 0 {
		if _, err := f.RunFilter(&qfilter.ContrastFilter{Delta: contrast}); err != nil {
			log.Fatalf("contrast: %v", err)
		}
	}
	if flip {
		if _, err := f.RunFilter(&qfilter.FlipHorizontalFilter{}); err != nil {
			log.Fatalf("flip: %v", err)
		}
	}

	if err := f.Save(outPath, nil); err != nil {
		log.Fatalf("save: %v", err)
	}

	ctx := context.Background()
	if !eng.WaitUntilFinished(ctx, timeout) {
		log.Fatalf("save did not finish within %s", timeout)
	}

	dest := outPath
	if dest == "" {
		dest = inputPath
	}
	fmt.Printf("Saved %s\n", dest)
}
