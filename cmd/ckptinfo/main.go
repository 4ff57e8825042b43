// Command ckptinfo prints the header of one or more checkpoints.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/paveldotsmirnov/arbalest/internal/checkpoint"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <checkpoint> [...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	exit := 0
	for _, path := range flag.Args() {
		cfg, format, err := checkpoint.Info(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			exit = 1
			continue
		}
		fmt.Printf("%s:\n", path)
		fmt.Printf("  format       %s\n", format)
		fmt.Printf("  dim          %d\n", cfg.Dim)
		fmt.Printf("  hidden_dim   %d\n", cfg.HiddenDim)
		fmt.Printf("  layers       %d\n", cfg.Layers)
		fmt.Printf("  heads        %d\n", cfg.Heads)
		fmt.Printf("  kv_heads     %d\n", cfg.KVHeads)
		fmt.Printf("  head_dim     %d\n", cfg.HeadDim)
		fmt.Printf("  vocab_size   %d\n", cfg.VocabSize)
		fmt.Printf("  seq_len      %d\n", cfg.SeqLen)
		if cfg.GroupSize > 0 {
			fmt.Printf("  group_size   %d\n", cfg.GroupSize)
		}
		fmt.Printf("  shared_cls   %v\n", cfg.SharedClassifier)
	}
	os.Exit(exit)
}
