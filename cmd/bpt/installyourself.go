package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// runInstallYourself implements `bpt install-yourself` (spec.md §6.1):
// copy or symlink the running executable onto PATH. Grounded on
// install_yourself.cpp, trimmed to the Unix-like path that dominates
// the Go toolchain's target platforms; Windows's registry-PATH-editing
// branch isn't reproduced here.
func runInstallYourself(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("install-yourself", flag.ExitOnError)
	where := fs.String("where", "user", "user or system")
	symlink := fs.Bool("symlink", false, "install as a symlink instead of copying")
	dryRun := fs.Bool("dry-run", false, "print what would happen without doing it")
	noModifyPath := fs.Bool("no-modify-path", false, "skip updating shell profile PATH entries")
	fs.Parse(args)

	if *where != "user" && *where != "system" {
		return fmt.Errorf("--where must be 'user' or 'system'")
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("install-yourself: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("install-yourself: %w", err)
	}

	destDir := userBinariesDir()
	if *where == "system" {
		destDir = systemBinariesDir()
	}
	destPath := filepath.Join(destDir, "bpt")
	if runtime.GOOS == "windows" {
		destPath += ".exe"
	}

	if abs, err := filepath.Abs(destPath); err == nil && abs == self {
		return fmt.Errorf("cannot install over our own executable (%s)", self)
	}

	if fi, err := os.Stat(destDir); err != nil || !fi.IsDir() {
		if *dryRun {
			slog.InfoContext(ctx, "would create directory", "dir", destDir)
		} else {
			slog.InfoContext(ctx, "creating directory", "dir", destDir)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return fmt.Errorf("install-yourself: %w", err)
			}
		}
	}

	if *dryRun {
		if *symlink {
			slog.InfoContext(ctx, "would create symlink", "from", destPath, "to", self)
		} else {
			slog.InfoContext(ctx, "would install", "from", self, "to", destPath)
		}
	} else {
		if lfi, err := os.Lstat(destPath); err == nil && lfi.Mode()&os.ModeSymlink != 0 {
			slog.InfoContext(ctx, "removing old symlink", "path", destPath)
			os.Remove(destPath)
		}
		if *symlink {
			os.Remove(destPath)
			slog.InfoContext(ctx, "creating symlink", "from", destPath, "to", self)
			if err := os.Symlink(self, destPath); err != nil {
				return fmt.Errorf("install-yourself: %w", err)
			}
		} else {
			slog.InfoContext(ctx, "installing", "from", self, "to", destPath)
			if err := copyExecutable(self, destPath); err != nil {
				return fmt.Errorf("install-yourself: %w", err)
			}
		}
	}

	if !*noModifyPath {
		if err := fixupUserPath(ctx, destDir, *dryRun); err != nil {
			slog.WarnContext(ctx, "could not update shell profile PATH", "error", err)
		}
	}
	return nil
}

func userBinariesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bin")
	}
	return filepath.Join(home, ".local", "bin")
}

func systemBinariesDir() string {
	return "/usr/local/bin"
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// fixupUserPath appends a PATH-exporting line to ~/.profile if binDir
// isn't already mentioned there, matching fixup_user_path's .profile
// handling (the Fish-shell branch isn't reproduced).
func fixupUserPath(ctx context.Context, binDir string, dryRun bool) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	profile := filepath.Join(home, ".profile")
	data, err := os.ReadFile(profile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	content := string(data)
	if strings.Contains(content, binDir) {
		slog.InfoContext(ctx, "PATH entry already present", "file", profile)
		return nil
	}
	if dryRun {
		slog.InfoContext(ctx, "would update PATH entry", "file", profile, "dir", binDir)
		return nil
	}
	addition := fmt.Sprintf("\n# added by 'bpt install-yourself'\nPATH=%s:$PATH\n", binDir)
	return os.WriteFile(profile, []byte(content+addition), 0o644)
}
