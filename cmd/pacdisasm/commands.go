package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v2"

	"github.com/Nemoumbra/pacdisasm/pacdot"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacfunc"
	"github.com/Nemoumbra/pacdisasm/pacgraph"
	"github.com/Nemoumbra/pacdisasm/pacmatch"
)

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:      "catalog",
		Usage:     "Load an instruction catalog and print a summary",
		ArgsUsage: "--catalog file --important file",
		Flags:     classificationFlags,
		Action: func(c *cli.Context) error {
			t, err := loadTables(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			overlays := make(map[int]int)
			for _, sig := range t.catalog.Signatures {
				tmpl, _ := t.catalog.Lookup(sig)
				overlays[tmpl.Overlay]++
			}
			fmt.Printf("Instructions  %d\n", t.catalog.Len())
			fmt.Println("Overlay histogram:")
			keys := make([]int, 0, len(overlays))
			for k := range overlays {
				keys = append(keys, k)
			}
			sort.Ints(keys)
			for _, k := range keys {
				fmt.Printf("  overlay %d: %d\n", k, overlays[k])
			}
			return nil
		},
	}
}

func disasmCommand() *cli.Command {
	return &cli.Command{
		Name:      "disasm",
		Usage:     "Disassemble a PAC blob",
		ArgsUsage: "--catalog file --important file blob",
		Flags: append(append([]cli.Flag{}, classificationFlags...),
			&cli.BoolFlag{Name: "terse", Usage: "print terse argument formatting instead of verbose"},
		),
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("missing blob argument", 1)
			}
			ctx, cancel := cliContext()
			defer cancel()

			t, err := loadTables(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			raw, err := os.ReadFile(c.Args().First())
			if err != nil {
				return cli.Exit(errors.Wrap(err, "reading blob"), 1)
			}
			log := newLogger(c.Bool("verbose"))
			file, err := pacentity.Decode(raw, c.Args().First(), pacentity.Options{
				Catalog:                 t.catalog,
				FindUnknownInstructions: true,
				JumpTableNextToSwitch:   true,
				CmdInxJmpSignature:      t.important.CmdInxJmp,
				Logger:                  log,
			})
			if err != nil {
				return cli.Exit(errors.Wrap(err, "decoding entities"), 1)
			}

			verbose := !c.Bool("terse")
			for _, off := range file.EntityOffsets {
				select {
				case <-ctx.Done():
					return cli.Exit("interrupted", 130)
				default:
				}
				e, _ := file.GetEntityByOffset(off)
				fmt.Println(formatEntity(e, verbose))
			}

			stats := file.Stats()
			fmt.Printf("\n-- %d entities, %d cut_off, %d shift-jis failures --\n",
				len(file.EntityOffsets), stats.CutOffCount, stats.ShiftJISFailures)
			return nil
		},
	}
}

func cfgCommand() *cli.Command {
	return &cli.Command{
		Name:      "cfg",
		Usage:     "Build and analyze the control-flow graph of a PAC blob",
		ArgsUsage: "--catalog file --important file blob",
		Flags: append(append([]cli.Flag{}, classificationFlags...),
			&cli.StringFlag{Name: "dot", Usage: "write a Graphviz DOT rendering of the CFG to this path"},
			&cli.BoolFlag{Name: "ignore-callbacks", Usage: "exclude callback edges from analysis"},
			&cli.BoolFlag{Name: "ignore-special", Usage: "exclude special edges from analysis"},
			&cli.BoolFlag{Name: "functions", Usage: "also print the function-blocks partition"},
		),
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("missing blob argument", 1)
			}
			ctx, cancel := cliContext()
			defer cancel()

			t, err := loadTables(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			raw, err := os.ReadFile(c.Args().First())
			if err != nil {
				return cli.Exit(errors.Wrap(err, "reading blob"), 1)
			}
			log := newLogger(c.Bool("verbose"))

			select {
			case <-ctx.Done():
				return cli.Exit("interrupted", 130)
			default:
			}

			file, g, hints, err := buildCFG(raw, c.Args().First(), t, log)
			if err != nil {
				return cli.Exit(err, 1)
			}

			a := pacgraph.New(g, pacgraph.Options{
				IgnoreCallbacks: c.Bool("ignore-callbacks"),
				IgnoreSpecial:   c.Bool("ignore-special"),
			})
			a.ComputeSourcesSinks()
			isDAG := a.ComputeTopsort()
			a.KosarajuSCC(!isDAG)
			a.CountEdges()
			a.FindRoots()

			fmt.Printf("Blocks        %d\n", a.Size())
			fmt.Printf("Edges         %d\n", a.CountEdges())
			fmt.Printf("Sources       %d\n", len(a.Sources()))
			fmt.Printf("Sinks         %d\n", len(a.Sinks()))
			fmt.Printf("Isolated      %d\n", len(a.Isolated()))
			fmt.Printf("Is DAG        %v\n", isDAG)
			fmt.Printf("Non-trivial SCCs  %d\n", len(a.NonTrivialComponents()))
			fmt.Printf("Flow roots    %d\n", len(a.Roots()))
			fmt.Printf("Cyclomatic number          %d\n", a.CyclomaticNumber())
			fmt.Printf("Cyclomatic number (roots)  %d\n", a.CyclomaticNumberWithRoots())
			if len(hints) > 0 {
				fmt.Printf("GateInfo hints on unresolved jumps: %d\n", len(hints))
				for _, h := range hints {
					fmt.Printf("  jump@0x%06X <- getGateInfo@0x%06X (sig 0x%08X)\n", h.JumpOffset, h.PrecedingOffset, h.PrecedingSig)
				}
			}

			if c.Bool("functions") {
				starts := pacfunc.PossibleStarts(file, g, pacfunc.Options{Returning: t.returning, SavingRA: t.savingRA, Important: t.important})
				funcs := pacfunc.Build(file, starts)
				fmt.Printf("Function blocks  %d\n", len(funcs))
				for _, fb := range funcs {
					fmt.Printf("  0x%06X - 0x%06X (%d instrs)\n", fb.Start, fb.End, len(fb.Instructions))
				}
			}

			if dotPath := c.String("dot"); dotPath != "" {
				gr := pacdot.Render(file, g, a)
				if err := os.WriteFile(dotPath, []byte(gr.String()), 0644); err != nil {
					return cli.Exit(errors.Wrap(err, "writing dot file"), 1)
				}
			}
			return nil
		},
	}
}

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:      "match",
		Usage:     "Correlate basic blocks across two PAC blobs",
		ArgsUsage: "--catalog file --important file blobA blobB",
		Flags: append(append([]cli.Flag{}, classificationFlags...),
			&cli.StringFlag{Name: "mode", Value: "sig", Usage: "bytes|sig|raw"},
			&cli.IntFlag{Name: "min-size", Value: 1, Usage: "minimum block byte size to hash"},
			&cli.IntFlag{Name: "min-instrs", Value: 1, Usage: "minimum block instruction count to hash"},
			&cli.BoolFlag{Name: "unique", Value: true, Usage: "report unique matches"},
			&cli.BoolFlag{Name: "non-unique", Usage: "report non-unique matches (cartesian product)"},
		),
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("need two blob arguments", 1)
			}
			ctx, cancel := cliContext()
			defer cancel()

			t, err := loadTables(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			log := newLogger(c.Bool("verbose"))

			rawA, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return cli.Exit(errors.Wrap(err, "reading blobA"), 1)
			}
			rawB, err := os.ReadFile(c.Args().Get(1))
			if err != nil {
				return cli.Exit(errors.Wrap(err, "reading blobB"), 1)
			}

			select {
			case <-ctx.Done():
				return cli.Exit("interrupted", 130)
			default:
			}

			settings := pacmatch.Settings{
				MinBlockSize:       c.Int("min-size"),
				MinBlockInstrCount: c.Int("min-instrs"),
				UniqueMatches:      c.Bool("unique"),
				NonUniqueMatches:   c.Bool("non-unique"),
			}

			mode := c.String("mode")
			if mode == "raw" {
				fileA, err := pacentity.Decode(rawA, c.Args().Get(0), pacentity.Options{Catalog: t.catalog, FindUnknownInstructions: true, Logger: log})
				if err != nil {
					return cli.Exit(err, 1)
				}
				fileB, err := pacentity.Decode(rawB, c.Args().Get(1), pacentity.Options{Catalog: t.catalog, FindUnknownInstructions: true, Logger: log})
				if err != nil {
					return cli.Exit(err, 1)
				}
				matches := pacmatch.MatchRawDataBlocks(fileA, fileB, settings)
				printMatches(matches)
				return nil
			}

			fileA, gA, _, err := buildCFG(rawA, c.Args().Get(0), t, log)
			if err != nil {
				return cli.Exit(err, 1)
			}
			fileB, gB, _, err := buildCFG(rawB, c.Args().Get(1), t, log)
			if err != nil {
				return cli.Exit(err, 1)
			}
			var matchMode pacmatch.Mode
			if mode == "bytes" {
				matchMode = pacmatch.ModeBytes
			} else {
				matchMode = pacmatch.ModeSignatures
			}
			matches := pacmatch.MatchCodeBlocks(fileA, gA, fileB, gB, matchMode, settings)
			printMatches(matches)
			return nil
		},
	}
}

func printMatches(matches []pacmatch.MatchedCodeBlocks) {
	fmt.Printf("%d match rows\n", len(matches))
	for _, m := range matches {
		tag := "unique"
		if m.FirstCount != 1 || m.SecondCount != 1 {
			tag = fmt.Sprintf("%dx%d", m.FirstCount, m.SecondCount)
		}
		fmt.Printf("  0x%06X <-> 0x%06X  [%s]\n", m.FirstAddress, m.SecondAddress, tag)
	}
}
