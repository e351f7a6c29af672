// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
mut-fitness estimates the fitness effect of amino-acid mutations in a viral
genome from mutation counts observed on a mutation-annotated tree. It reads
the flat tables produced by the tree-extraction tooling and writes per-clade
rate spectra, expected-vs-actual counts, and pooled fitness tables.
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/mutfit/fitness"
)

var (
	configPath  = flag.String("config", "", "YAML pipeline configuration; required")
	outDir      = flag.String("out", "", "Output directory; overrides out_dir from the config")
	parallelism = flag.Int("parallelism", 0, "Maximum number of concurrently counted grid cells; 0 = config value or runtime.NumCPU()")
)

func mutFitnessUsage() {
	fmt.Printf("Usage: %s -config config.yaml [OPTIONS]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = mutFitnessUsage
	shutdown := grail.Init()
	defer shutdown()

	if *configPath == "" {
		log.Fatalf("-config is required")
	}
	ctx := vcontext.Background()
	cfg, err := fitness.LoadConfig(ctx, *configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}
	if cfg.OutDir == "" {
		log.Fatalf("an output directory is required (-out or out_dir in the config)")
	}
	if *parallelism != 0 {
		cfg.Parallelism = *parallelism
	}
	if err := fitness.Run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
