package commands

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eikobot/eikobot/pkg/pkgmanager"
	"github.com/eikobot/eikobot/pkg/project"
)

func newPackageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Install and release eikobot packages",
	}
	cmd.AddCommand(newPackageInstallCommand())
	cmd.AddCommand(newPackageReleaseCommand())
	return cmd
}

func newPackageInstallCommand() *cobra.Command {
	var editable bool

	cmd := &cobra.Command{
		Use:   "install [spec|.]",
		Short: "Install packages from specs or the project's requires list",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := pkgmanager.New(".")

			if editable {
				dir := "."
				if len(args) > 0 {
					dir = args[0]
				}
				return manager.InstallEditable(dir)
			}

			specs := args
			if len(specs) == 0 || (len(specs) == 1 && specs[0] == ".") {
				settings, err := project.Load(".")
				if err != nil {
					return err
				}
				specs = settings.Requires
			}
			if len(specs) == 0 {
				fmt.Println("Nothing to install.")
				return nil
			}
			return manager.Install(cmd.Context(), specs)
		},
	}

	cmd.Flags().BoolVarP(&editable, "editable", "e", false, "symlink a local package instead of copying")
	return cmd
}

func newPackageReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <target>",
		Short: "Build a release tarball for a GitHub release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "github" {
				return fmt.Errorf("unknown release target %q", args[0])
			}

			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			name := filepath.Base(dir)
			out := filepath.Join("dist", name+".tar.gz")
			if err := os.MkdirAll("dist", 0o755); err != nil {
				return err
			}
			if err := buildTarball(dir, name, out); err != nil {
				return err
			}
			fmt.Printf("Wrote %s; attach it to a GitHub release.\n", out)
			return nil
		},
	}
}

// buildTarball packs the package's .eiko sources and eiko.toml under a
// single top-level directory, the layout `package install` expects.
func buildTarball(dir, name, out string) error {
	file, err := os.Create(out)
	if err != nil {
		return err
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if base == "dist" || base == project.PackageRoot || strings.HasPrefix(base, ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".eiko") && filepath.Base(path) != project.FileName {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name + "/" + filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}
