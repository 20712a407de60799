package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var composeFile string

// run executes external tools. Tests replace it to capture the argv.
var run = runCommand

// stackServices are the services defined in docker-compose.yml.
var stackServices = []string{"postgres", "redis", "minio", "server", "relay", "worker"}

// compose runs `docker compose -f <file> <sub> [flags...] [services...]`
// after checking every service name against the stack.
func compose(ctx context.Context, sub string, flags, svcs []string) error {
	for _, name := range svcs {
		if !knownService(name) {
			return fmt.Errorf("unknown service %q (have %s)", name, strings.Join(stackServices, ", "))
		}
	}
	args := append([]string{"compose", "-f", composeFile, sub}, flags...)
	return run(ctx, "docker", append(args, svcs...)...)
}

func knownService(name string) bool {
	for _, svc := range stackServices {
		if svc == name {
			return true
		}
	}
	return false
}

func newBuildCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "build [service...]",
		Short: "Build the server, relay and worker images",
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags []string
			if noCache {
				flags = append(flags, "--no-cache")
			}
			return compose(cmd.Context(), "build", flags, args)
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable Docker build cache")
	return cmd
}

func newUpCmd() *cobra.Command {
	var detach, skipBuild bool
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start postgres, redis, minio and the ChartSnap services",
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags []string
			if !skipBuild {
				flags = append(flags, "--build")
			}
			if detach {
				flags = append(flags, "-d")
			}
			return compose(cmd.Context(), "up", flags, args)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run in the background")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Start without rebuilding images")
	return cmd
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags []string
			if removeVolumes {
				// Drops the postgres and minio volumes too.
				flags = append(flags, "-v")
			}
			return compose(cmd.Context(), "down", flags, nil)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove stack volumes")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var follow bool
	var tail int
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Show service logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := []string{"--tail", strconv.Itoa(tail)}
			if follow {
				flags = append(flags, "-f")
			}
			return compose(cmd.Context(), "logs", flags, args)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "F", false, "Stream logs continuously")
	cmd.Flags().IntVar(&tail, "tail", 200, "Lines to show per service before following")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			return run(cmd.Context(), "go", append(goArgs, pkgs...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

// services maps runnable service names to their main packages.
var services = []struct{ name, path string }{
	{"server", "./cmd/server"},
	{"relay", "./cmd/relay"},
	{"worker", "./cmd/worker"},
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ChartSnap service directly with go run",
	}
	for _, svc := range services {
		cmd.AddCommand(newServiceRunner(svc.name, svc.path))
	}
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "go", append([]string{"run", path}, args...)...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
