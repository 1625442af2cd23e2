package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bpt-pm/bpt"
)

// runNew implements `bpt new` (spec.md §6.1): scaffold a new project by
// interactively prompting for a name and a header layout, grounded on
// new.cpp. The scaffold writes a canonical pkg.json rather than
// new.cpp's pkg.yaml: this driver standardizes every project manifest,
// including freshly scaffolded ones, on the same JSON schema
// bpt.ParseMetadata/ToJSON already implement, rather than adding a
// YAML-specific manifest dialect this module otherwise never reads.
func runNew(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "project directory (default: ./<name>)")
	splitSrcInclude := fs.Bool("split-src-include", false, "put headers under include/ instead of src/")
	fs.Parse(args)

	in := bufio.NewReader(os.Stdin)
	var givenName string
	if fs.NArg() > 0 {
		givenName = fs.Arg(0)
	}

	var name bpt.Name
	for {
		raw := givenName
		if raw == "" {
			var err error
			raw, err = promptLine(in, "New project name", "")
			if err != nil {
				return &bpt.Error{Kind: bpt.ErrCancelled, Op: "cli.new", Inner: err, Marker: string(bpt.MarkerUserCancelled)}
			}
		}
		givenName = ""
		n, err := bpt.NewName(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid name string %q: %v\n", raw, err)
			continue
		}
		name = n
		break
	}

	dest := *dirFlag
	if dest == "" {
		abs, err := filepath.Abs(name.String())
		if err != nil {
			return err
		}
		dest = abs
	}

	split := *splitSrcInclude
	if fs.NArg() == 0 {
		ans, err := promptLine(in, "Split headers and sources into [include/] and [src/] directories? [y/N]", "")
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrCancelled, Op: "cli.new", Inner: err, Marker: string(bpt.MarkerUserCancelled)}
		}
		switch strings.ToLower(ans) {
		case "y", "yes":
			split = true
		default:
			split = false
		}
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	meta := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: name, Version: mustVersion("0.1.0"), Revision: 1},
		Libraries: []bpt.LibraryInfo{
			{Name: name, Path: "src"},
		},
	}
	canonical, err := meta.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "pkg.json"), canonical, 0o644); err != nil {
		return err
	}

	headerDir := filepath.Join(dest, "src", name.String())
	if split {
		headerDir = filepath.Join(dest, "include", name.String())
	}
	srcDir := filepath.Join(dest, "src", name.String())
	if err := os.MkdirAll(headerDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return err
	}

	ident := toIdent(name.String())
	cpp := fmt.Sprintf("#include <%s/%s.hpp>\n\nint %s::the_answer() noexcept {\n  return 42;\n}\n",
		name, name, ident)
	hpp := fmt.Sprintf("#pragma once\n\nnamespace %s {\n\nint the_answer() noexcept;\n\n}\n", ident)

	if err := os.WriteFile(filepath.Join(srcDir, name.String()+".cpp"), []byte(cpp), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(headerDir, name.String()+".hpp"), []byte(hpp), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "New project files written to %s\n", dest)
	return nil
}

func promptLine(r *bufio.Reader, prompt, def string) (string, error) {
	if def == "" {
		fmt.Fprintf(os.Stdout, "%s: ", prompt)
	} else {
		fmt.Fprintf(os.Stdout, "%s [%s]: ", prompt, def)
	}
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// toIdent converts an arbitrary package name into a valid identifier
// for the scaffold's generated source: non-alphanumeric runs become
// underscores, and a leading digit gets an underscore prefix.
func toIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
