// Copyright (C) 2023 Fluxproto, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command flux compresses and decompresses JSON messages with
// the FLUX pipeline.
//
//	flux compress a.json b.json    # writes a.json.flux, b.json.flux
//	flux decompress a.json.flux
//	flux analyze a.json.flux
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/frame"
	"github.com/fluxproto/flux/session"
)

func main() {
	app := &cli.App{
		Name:  "flux",
		Usage: "schema-aware JSON compression",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config `file`",
			},
			&cli.IntFlag{
				Name:  "level",
				Usage: "byte-codec quality for non-JSON input (0=store, 1=fast, 2=better)",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "no-columnar",
				Usage: "disable the columnar transform",
			},
			&cli.BoolFlag{
				Name:  "no-entropy",
				Usage: "disable entropy coding",
			},
			&cli.IntFlag{
				Name:  "jobs",
				Usage: "files processed concurrently",
				Value: 4,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "compress",
				Usage:     "compress each file into <file>.flux",
				ArgsUsage: "file...",
				Action:    runCompress,
			},
			{
				Name:      "decompress",
				Usage:     "decompress each .flux file",
				ArgsUsage: "file...",
				Action:    runDecompress,
			},
			{
				Name:      "analyze",
				Usage:     "describe frames or recommend an algorithm for raw JSON",
				ArgsUsage: "file...",
				Action:    runAnalyze,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func loadConfig(c *cli.Context) (flux.Config, error) {
	cfg := flux.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = flux.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
	}
	if c.Bool("no-columnar") {
		cfg.Columnar = false
	}
	if c.Bool("no-entropy") {
		cfg.Entropy = false
	}
	cfg.Level = c.Int("level")
	return cfg, cfg.Validate()
}

// eachFile runs fn over the argument files concurrently.
// Every file gets its own session: sessions are independent,
// but one session must never be driven from two goroutines.
func eachFile(c *cli.Context, fn func(cfg flux.Config, path string) error) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("no input files")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(c.Int("jobs"))
	for _, path := range c.Args().Slice() {
		path := path
		g.Go(func() error { return fn(cfg, path) })
	}
	return g.Wait()
}

func runCompress(c *cli.Context) error {
	return eachFile(c, func(cfg flux.Config, path string) error {
		in, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out, err := session.NewWithConfig(cfg).Compress(in)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := os.WriteFile(path+".flux", out, 0644); err != nil {
			return err
		}
		log.Printf("%s: %d -> %d bytes (%.1f%%)", path, len(in), len(out),
			100*float64(len(out))/float64(max(len(in), 1)))
		return nil
	})
}

func runDecompress(c *cli.Context) error {
	return eachFile(c, func(cfg flux.Config, path string) error {
		in, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out, err := session.NewWithConfig(cfg).Decompress(in)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return os.WriteFile(strings.TrimSuffix(path, ".flux")+".out.json", out, 0644)
	})
}

func runAnalyze(c *cli.Context) error {
	return eachFile(c, func(cfg flux.Config, path string) error {
		in, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if desc, err := frame.Describe(in); err == nil {
			fmt.Printf("%s: %s\n", path, desc)
			return nil
		}
		rec := session.Analyze(in)
		fmt.Printf("%s: recommend %s (%.2f bits/byte): %s\n",
			path, rec.Algorithm, rec.EntropyBits, rec.Reason)
		return nil
	})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
