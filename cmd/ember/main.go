// Command ember is the console entry point for the package subsystem:
// scanning the package root, resolving dependencies, loading and unloading
// packages, and optionally serving the debug/status endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/emberforge/ember/pkg/config"
	"github.com/emberforge/ember/pkg/debug"
	"github.com/emberforge/ember/pkg/ecs"
	"github.com/emberforge/ember/pkg/engine"
	"github.com/emberforge/ember/pkg/observability"
	"github.com/emberforge/ember/pkg/packages"
	"github.com/emberforge/ember/pkg/registry"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ember [flags] <command> [args]

Commands:
  scan                 List available packages under the package root
  list                 List loaded packages (after autoload)
  load <package>       Load a package and its dependencies
  resolve <package>    Show the dependency resolution for a package
  serve                Load autoload packages, watch the root, serve debug endpoints

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	projectFile := flag.String("project", "", "Path to the YAML project file")
	packageRoot := flag.String("packages", "", "Package root (overrides project file)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*projectFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ember: %v\n", err)
		os.Exit(1)
	}
	if *packageRoot != "" {
		cfg.PackageRoot = *packageRoot
	}

	log := observability.NewLogger(cfg.LogLevel, os.Stderr)
	log.Infof("Ember engine %s (plugin ABI %d)", engine.Version, engine.PluginABIVersion)

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	scanner := registry.NewScanner(cfg.PackageRoot, log)
	manager := packages.NewManager(scanner, ecs.NewFactoryRegistry(), log,
		packages.WithMetrics(metrics))

	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "scan":
		manager.ScanPackages()
		for _, name := range manager.AvailablePackages() {
			fmt.Println(name)
		}
	case "list":
		manager.ScanPackages()
		autoload(manager, cfg, log)
		for _, name := range manager.LoadedPackages() {
			pkg, _ := manager.Package(name)
			fmt.Printf("%s %s\n", name, pkg.Manifest.Version)
		}
	case "load":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		if err := manager.LoadPackageWithDependencies(args[0]); err != nil {
			reportLoadFailure(manager, args[0], err)
			os.Exit(1)
		}
		fmt.Printf("loaded %s\n", args[0])
	case "resolve":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		manager.ScanPackages()
		res := manager.CheckDependencies(args[0])
		fmt.Printf("satisfied:    %v\n", res.Satisfied)
		fmt.Printf("missing:      %v\n", res.Missing)
		fmt.Printf("incompatible: %v\n", res.Incompatible)
		fmt.Printf("load order:   %v\n", manager.DependencyOrder(args[0]))
		fmt.Printf("circular:     %v\n", manager.HasCircularDependency(args[0]))
	case "serve":
		serve(manager, scanner, cfg, promRegistry, log)
	default:
		usage()
		os.Exit(2)
	}
}

func autoload(manager *packages.Manager, cfg *config.Config, log *logrus.Logger) {
	for _, name := range cfg.Autoload {
		if err := manager.LoadPackageWithDependencies(name); err != nil {
			log.Errorf("Autoload of %q failed: %v", name, err)
		}
	}
}

// reportLoadFailure prints the itemized dependency state alongside the
// error so an operator can act without digging through logs.
func reportLoadFailure(manager *packages.Manager, name string, err error) {
	fmt.Fprintf(os.Stderr, "ember: %v\n", err)
	res := manager.CheckDependencies(name)
	if len(res.Missing) > 0 {
		fmt.Fprintf(os.Stderr, "  missing dependencies:      %v\n", res.Missing)
	}
	if len(res.Incompatible) > 0 {
		fmt.Fprintf(os.Stderr, "  incompatible dependencies: %v\n", res.Incompatible)
	}
}

func serve(manager *packages.Manager, scanner *registry.Scanner, cfg *config.Config, promRegistry *prometheus.Registry, log *logrus.Logger) {
	manager.ScanPackages()
	autoload(manager, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := scanner.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("Package root watcher stopped: %v", err)
		}
	}()

	if cfg.Debug.Enabled {
		server := debug.NewServer(manager, promRegistry, log)
		go func() {
			if err := server.ListenAndServe(cfg.Debug.Addr); err != nil {
				log.Errorf("Debug server failed: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Infof("Shutting down, unloading packages")
	manager.UnloadAllPackages()
}
