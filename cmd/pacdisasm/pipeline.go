package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/Nemoumbra/pacdisasm/pacblock"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// classificationFlags are the flags shared by every subcommand that needs
// the catalog and classification lists.
var classificationFlags = []cli.Flag{
	&cli.StringFlag{Name: "catalog", Usage: "instruction catalog file", Required: true},
	&cli.StringFlag{Name: "conditional", Usage: "conditional-jump classification list"},
	&cli.StringFlag{Name: "unconditional", Usage: "unconditional-jump classification list"},
	&cli.StringFlag{Name: "jumping", Usage: "generic jumping-instruction classification list"},
	&cli.StringFlag{Name: "callback", Usage: "callback-instruction classification list"},
	&cli.StringFlag{Name: "returning", Usage: "returning-instruction classification list"},
	&cli.StringFlag{Name: "saving-ra", Usage: "RA-saving-instruction classification list"},
	&cli.StringFlag{Name: "important", Usage: "important-signatures list", Required: true},
	&cli.BoolFlag{Name: "verbose", Usage: "log non-fatal decode/resolve conditions to stderr"},
}

type loadedTables struct {
	catalog       *pacinstr.Catalog
	conditional   pacinstr.SignatureIndex
	unconditional pacinstr.SignatureIndex
	jumping       pacinstr.SignatureIndex
	callback      pacinstr.SignatureIndex
	returning     pacinstr.SignatureSet
	savingRA      pacinstr.SignatureSet
	important     *pacinstr.ImportantSignatures
}

func loadFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, nil
}

func loadTables(c *cli.Context) (*loadedTables, error) {
	catalogFile, err := loadFile(c.String("catalog"))
	if err != nil {
		return nil, err
	}
	defer catalogFile.Close()
	catalog, err := pacinstr.LoadCatalog(catalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading catalog")
	}

	importantFile, err := loadFile(c.String("important"))
	if err != nil {
		return nil, err
	}
	defer importantFile.Close()
	important, err := pacinstr.LoadImportantSignatures(importantFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading important signatures")
	}

	t := &loadedTables{catalog: catalog, important: important}

	loadIndex := func(flag string) (pacinstr.SignatureIndex, error) {
		path := c.String(flag)
		if path == "" {
			return pacinstr.SignatureIndex{}, nil
		}
		f, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		idx, err := pacinstr.LoadSignatureIndex(f)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s classification list", flag)
		}
		return idx, nil
	}
	loadSet := func(flag string) (pacinstr.SignatureSet, error) {
		path := c.String(flag)
		if path == "" {
			return pacinstr.SignatureSet{}, nil
		}
		f, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		set, err := pacinstr.LoadSignatureSet(f)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s classification list", flag)
		}
		return set, nil
	}

	if t.conditional, err = loadIndex("conditional"); err != nil {
		return nil, err
	}
	if t.unconditional, err = loadIndex("unconditional"); err != nil {
		return nil, err
	}
	if t.jumping, err = loadIndex("jumping"); err != nil {
		return nil, err
	}
	if t.callback, err = loadIndex("callback"); err != nil {
		return nil, err
	}
	if t.returning, err = loadSet("returning"); err != nil {
		return nil, err
	}
	if t.savingRA, err = loadSet("saving-ra"); err != nil {
		return nil, err
	}
	return t, nil
}

func newLogger(verbose bool) logrus.FieldLogger {
	l := logrus.New()
	if !verbose {
		l.SetOutput(discardWriter{})
	} else {
		l.SetOutput(os.Stderr)
	}
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// buildCFG runs decode -> partition -> resolve -> normalize, the pipeline
// shared by the cfg and match subcommands.
func buildCFG(raw []byte, name string, t *loadedTables, log logrus.FieldLogger) (*pacentity.File, *pacblock.Graph, []pacblock.GateInfoHint, error) {
	file, err := pacentity.Decode(raw, name, pacentity.Options{
		Catalog:                 t.catalog,
		FindUnknownInstructions: true,
		JumpTableNextToSwitch:   true,
		CmdInxJmpSignature:      t.important.CmdInxJmp,
		Logger:                  log,
	})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "decoding entities")
	}

	g := pacblock.Partition(file, pacblock.PartitionOptions{
		Returning: t.returning,
		Jumping:   t.jumping,
		Callback:  t.callback,
		Important: t.important,
	})

	hints := pacblock.ResolveEdges(g, pacblock.ResolverOptions{
		Conditional:   t.conditional,
		Unconditional: t.unconditional,
		Callback:      t.callback,
		Returning:     t.returning,
		SavingRA:      t.savingRA,
		Important:     t.important,
		Log:           log,
	})

	pacblock.Normalize(g)

	return file, g, hints, nil
}
