// Command procguard-compile compiles profile source directories into the
// policy bundle loaded by the engine, and inspects compiled bundles.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/reglet-dev/procguard/application/compiler"
	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
	"github.com/reglet-dev/procguard/infrastructure/parser"
	"github.com/reglet-dev/procguard/infrastructure/policystore"
	"github.com/reglet-dev/procguard/log"
)

// errDifferent is returned by diff when the bundles differ.
var errDifferent = errors.New("bundles differ")

type cli struct {
	app *kingpin.Application

	logLevel *string

	compile     *kingpin.CmdClause
	compileDir  *string
	compileOut  *string
	defaultCode *string
	tableSize   *int

	dump        *kingpin.CmdClause
	dumpBundle  *string
	dumpDetails *bool

	diff  *kingpin.CmdClause
	diffA *string
	diffB *string

	syscalls          *kingpin.CmdClause
	syscallsSecondary *bool
}

func newCLI(stdout io.Writer) *cli {
	c := &cli{}
	c.app = kingpin.New("procguard-compile", "Compile procguard profile sources into a policy bundle.")
	c.app.UsageWriter(stdout)
	c.app.ErrorWriter(stdout)
	c.logLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error).").Default("warn").String()

	c.compile = c.app.Command("compile", "Compile a profile source directory.")
	c.compileDir = c.compile.Arg("dir", "Directory holding NAME.yaml and NAME[.secondary].policy files.").Required().ExistingDir()
	c.compileOut = c.compile.Flag("output", "Bundle path to write.").Short('o').Default("policy.cbor").String()
	c.defaultCode = c.compile.Flag("default-code", "Code for syscalls listed without a prefix.").Default("deny").Enum("deny", "inspect")
	c.tableSize = c.compile.Flag("table-size", "Entries per syscall table.").Default(fmt.Sprint(entities.DefaultTableSize)).Int()

	c.dump = c.app.Command("dump", "Print the profiles of a compiled bundle.")
	c.dumpBundle = c.dump.Arg("bundle", "Compiled bundle.").Required().ExistingFile()
	c.dumpDetails = c.dump.Flag("syscalls", "List every syscall that is not allowed.").Bool()

	c.diff = c.app.Command("diff", "Compare two compiled bundles.")
	c.diffA = c.diff.Arg("a", "First bundle.").Required().ExistingFile()
	c.diffB = c.diff.Arg("b", "Second bundle.").Required().ExistingFile()

	c.syscalls = c.app.Command("syscalls", "List the syscall names the policy language accepts.")
	c.syscallsSecondary = c.syscalls.Flag("secondary", "List the secondary convention.").Bool()
	return c
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "procguard-compile: %v\n", err)
		if errors.Is(err, errDifferent) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	c := newCLI(stdout)
	command, err := c.app.Parse(args)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(*c.logLevel)
	if err != nil {
		return err
	}
	logger := log.New(log.WithLevel(level))

	switch command {
	case c.compile.FullCommand():
		return c.runCompile(ctx, logger, stdout)
	case c.dump.FullCommand():
		return c.runDump(stdout)
	case c.diff.FullCommand():
		return c.runDiff(stdout)
	case c.syscalls.FullCommand():
		conv := entities.ConventionNative
		if *c.syscallsSecondary {
			conv = entities.ConventionSecondary
		}
		for _, name := range parser.SyscallNames(conv) {
			nr, _ := parser.SyscallNumber(conv, name)
			fmt.Fprintf(stdout, "%d\t%s\n", nr, name)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", command)
}

func (c *cli) runCompile(ctx context.Context, logger *slog.Logger, stdout io.Writer) error {
	code := entities.FilterDeny
	if *c.defaultCode == "inspect" {
		code = entities.FilterInspect
	}

	comp := compiler.New(
		parser.NewYamlFlagsParser(),
		parser.NewDSLParser(parser.WithDefaultCode(code)),
		parser.NewDSLParser(parser.WithDefaultCode(code), parser.WithConvention(entities.ConventionSecondary)),
		compiler.WithLogger(logger),
		compiler.WithTableSize(*c.tableSize),
	)
	profiles, err := comp.CompileDir(ctx, *c.compileDir)
	if err != nil {
		return err
	}

	store := policystore.NewFileStore(policystore.WithPath(*c.compileOut))
	if err := store.Save(profiles); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "compiled %d profiles into %s\n", len(profiles), store.Path())
	return nil
}

func load(path string) ([]ports.CompiledProfile, error) {
	return policystore.NewFileStore(policystore.WithPath(path)).Load()
}

func (c *cli) runDump(stdout io.Writer) error {
	profiles, err := load(*c.dumpBundle)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		fmt.Fprintf(stdout, "%s %s %s\n", p.Tag, p.Name, describeFlags(p.Flags))
		if p.Filters == nil {
			fmt.Fprintln(stdout, "  no filter tables: all syscalls allowed")
			continue
		}
		for _, conv := range []entities.Convention{entities.ConventionNative, entities.ConventionSecondary} {
			t := p.Filters.Table(conv)
			if t == nil {
				fmt.Fprintf(stdout, "  %s: unsupported\n", conv)
				continue
			}
			counts := map[entities.FilterCode]int{}
			for nr := 0; nr < t.Len(); nr++ {
				counts[t.Get(nr)]++
			}
			fmt.Fprintf(stdout, "  %s: allow=%d inspect=%d deny=%d\n",
				conv, counts[entities.FilterAllow], counts[entities.FilterInspect], counts[entities.FilterDeny])
			if *c.dumpDetails {
				for nr := 0; nr < t.Len(); nr++ {
					if code := t.Get(nr); code != entities.FilterAllow {
						fmt.Fprintf(stdout, "    %s %s\n", syscallLabel(conv, nr), code)
					}
				}
			}
		}
	}
	return nil
}

func (c *cli) runDiff(stdout io.Writer) error {
	a, err := load(*c.diffA)
	if err != nil {
		return err
	}
	b, err := load(*c.diffB)
	if err != nil {
		return err
	}
	lines := diffBundles(a, b)
	for _, line := range lines {
		fmt.Fprintln(stdout, line)
	}
	if len(lines) > 0 {
		return errDifferent
	}
	return nil
}

// diffBundles lists the differences between two bundles, keyed by tag.
func diffBundles(a, b []ports.CompiledProfile) []string {
	byTag := func(ps []ports.CompiledProfile) map[entities.Tag]ports.CompiledProfile {
		m := make(map[entities.Tag]ports.CompiledProfile, len(ps))
		for _, p := range ps {
			m[p.Tag] = p
		}
		return m
	}
	am, bm := byTag(a), byTag(b)

	tags := make([]entities.Tag, 0, len(am)+len(bm))
	for tag := range am {
		tags = append(tags, tag)
	}
	for tag := range bm {
		if _, ok := am[tag]; !ok {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var out []string
	for _, tag := range tags {
		pa, inA := am[tag]
		pb, inB := bm[tag]
		switch {
		case !inB:
			out = append(out, fmt.Sprintf("- %s %s", tag, pa.Name))
			continue
		case !inA:
			out = append(out, fmt.Sprintf("+ %s %s", tag, pb.Name))
			continue
		}
		if pa.Name != pb.Name {
			out = append(out, fmt.Sprintf("~ %s name %s -> %s", tag, pa.Name, pb.Name))
		}
		if pa.Flags != pb.Flags {
			out = append(out, fmt.Sprintf("~ %s flags %s -> %s", tag, describeFlags(pa.Flags), describeFlags(pb.Flags)))
		}
		for _, conv := range []entities.Convention{entities.ConventionNative, entities.ConventionSecondary} {
			out = append(out, diffTables(tag, conv, pa.Filters, pb.Filters)...)
		}
	}
	return out
}

func diffTables(tag entities.Tag, conv entities.Convention, a, b *entities.FilterSet) []string {
	ta, tb := a.Table(conv), b.Table(conv)
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil || b == nil || (ta == nil) != (tb == nil):
		return []string{fmt.Sprintf("~ %s %s table %s -> %s", tag, conv, tableState(a, ta), tableState(b, tb))}
	case ta == nil || ta.Equal(tb):
		return nil
	}

	var out []string
	n := max(ta.Len(), tb.Len())
	for nr := 0; nr < n; nr++ {
		if ca, cb := ta.Get(nr), tb.Get(nr); ca != cb {
			out = append(out, fmt.Sprintf("~ %s %s %s %s -> %s", tag, conv, syscallLabel(conv, nr), ca, cb))
		}
	}
	return out
}

func tableState(fs *entities.FilterSet, t *entities.SyscallTable) string {
	switch {
	case fs == nil:
		return "unfiltered"
	case t == nil:
		return "unsupported"
	default:
		return "present"
	}
}

func syscallLabel(conv entities.Convention, nr int) string {
	if name, ok := parser.SyscallName(conv, nr); ok {
		return name
	}
	return fmt.Sprintf("#%d", nr)
}

func describeFlags(f entities.Flags) string {
	var parts []string
	add := func(set bool, name string) {
		if set {
			parts = append(parts, name)
		}
	}
	add(f.Permissive, "permissive")
	add(f.IsolationBoundary, "isolated")
	add(f.NoNewPrivileges, "nnp")
	add(f.JITAllowed, "jit")
	add(f.UnrestrictedLocal, "unrestricted-local")
	add(f.SameProcessLoopback, "same-process-loopback")
	if !f.TransmitGroups.Empty() {
		parts = append(parts, "tx="+f.TransmitGroups.String())
	}
	if !f.ReceiveGroups.Empty() {
		parts = append(parts, "rx="+f.ReceiveGroups.String())
	}
	if len(parts) == 0 {
		return "[]"
	}
	return "[" + strings.Join(parts, " ") + "]"
}
