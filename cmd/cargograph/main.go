// SPDX-License-Identifier: AGPL-3.0-or-later

// Command cargograph inspects a Cargo workspace's dependency graph: package
// and feature graphs, cycle detection, feature resolution, change-impact
// analysis, and Hakari-style feature unification.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cargograph/internal/cliutil"
	"cargograph/pkg/determinator"
	"cargograph/pkg/determinator/rules"
	"cargograph/pkg/graph"
	"cargograph/pkg/graph/feature"
	"cargograph/pkg/hakari"
	"cargograph/pkg/logging"
	"cargograph/pkg/resolver"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var metadataPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "cargograph",
		Short:         "Inspect a Cargo workspace's dependency graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&metadataPath, "metadata", "metadata.json", "path to a cargo-metadata-style JSON document")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log each phase of the command to stderr")

	log := func() logging.Logger { return logging.NewLoggerTo(verbose, os.Stderr, os.Stderr) }

	root.AddCommand(
		newQueryCmd(&metadataPath, log),
		newCyclesCmd(&metadataPath, log),
		newResolveCmd(&metadataPath, log),
		newDeterminatorCmd(&metadataPath, log),
		newHakariCmd(&metadataPath, log),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cargograph version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newQueryCmd(metadataPath *string, newLog func() logging.Logger) *cobra.Command {
	var dir string
	var reverse bool

	cmd := &cobra.Command{
		Use:   "query <package-id>...",
		Short: "Resolve the transitive closure from one or more package ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog().WithComponent("query")
			g, err := cliutil.LoadGraph(*metadataPath)
			if err != nil {
				return err
			}
			log.Debug("metadata loaded", logging.NewField("path", *metadataPath))
			ids := make([]graph.PackageId, len(args))
			for i, a := range args {
				ids[i] = graph.PackageId(a)
			}
			direction := graph.Forward
			if reverse || dir == "reverse" {
				direction = graph.Reverse
			}
			set, err := g.Query(ids, direction).Resolve()
			if err != nil {
				return err
			}
			log.Info("query resolved", logging.NewField("roots", len(ids)), logging.NewField("members", set.Len()))
			cliutil.PrintPackageIds(cmd.OutOrStdout(), set.PackageIds(direction))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "direction", "forward", "forward or reverse")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "follow reverse (depended-on-by) edges")
	return cmd
}

func newCyclesCmd(metadataPath *string, newLog func() logging.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "List every non-trivial strongly-connected component",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog().WithComponent("cycles")
			g, err := cliutil.LoadGraph(*metadataPath)
			if err != nil {
				return err
			}
			log.Debug("metadata loaded", logging.NewField("path", *metadataPath))
			cycles := g.Cycles().AllCycles()
			log.Info("cycle detection complete", logging.NewField("count", len(cycles)))
			cliutil.PrintCycles(cmd.OutOrStdout(), cycles)
			return nil
		},
	}
}

func newResolveCmd(metadataPath *string, newLog func() logging.Logger) *cobra.Command {
	var initialName, targetTriple, hostTriple string
	var includeDev, allFeatures, noDefault bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Simulate a build plan for one workspace member",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog().WithComponent("resolve")
			g, err := cliutil.LoadGraph(*metadataPath)
			if err != nil {
				return err
			}
			fg, err := feature.Build(g)
			if err != nil {
				return err
			}
			log.Debug("feature graph built", logging.NewField("path", *metadataPath))
			id, err := g.MetadataByWorkspaceName(initialName)
			if err != nil {
				return err
			}
			sel := resolver.Default()
			switch {
			case allFeatures:
				sel = resolver.All()
			case noDefault:
				sel = resolver.None()
			}
			opts := resolver.Options{
				IncludeDev:     includeDev,
				TargetPlatform: cliutil.ParsePlatform(targetTriple),
				HostPlatform:   cliutil.ParsePlatform(hostTriple),
			}
			cs := resolver.Resolve(fg, resolver.Initials{id.Id: sel}, opts)
			log.Info("resolution complete",
				logging.NewField("package", initialName),
				logging.NewField("target-features", len(cs.TargetFeatures)),
				logging.NewField("host-features", len(cs.HostFeatures)))
			fmt.Fprintln(cmd.OutOrStdout(), "[target]")
			for fid := range cs.TargetFeatures {
				fmt.Fprintln(cmd.OutOrStdout(), fid)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "[host]")
			for fid := range cs.HostFeatures {
				fmt.Fprintln(cmd.OutOrStdout(), fid)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&initialName, "package", "", "workspace member name to resolve from")
	cmd.Flags().StringVar(&targetTriple, "target", "", "target platform triple")
	cmd.Flags().StringVar(&hostTriple, "host", "", "host platform triple")
	cmd.Flags().BoolVar(&includeDev, "include-dev", false, "follow dev-dependency edges")
	cmd.Flags().BoolVar(&allFeatures, "all-features", false, "resolve with every feature enabled")
	cmd.Flags().BoolVar(&noDefault, "no-default-features", false, "resolve without default features")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}

func newDeterminatorCmd(metadataPath *string, newLog func() logging.Logger) *cobra.Command {
	var oldMetadataPath, rulesPath, impactOf string
	var changedPaths []string

	cmd := &cobra.Command{
		Use:   "determinator",
		Short: "Compute which workspace packages are affected by a set of changed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog().WithComponent("determinator")
			newGraph, err := cliutil.LoadGraph(*metadataPath)
			if err != nil {
				return err
			}
			log.Debug("new metadata loaded", logging.NewField("path", *metadataPath))

			if impactOf != "" {
				log.Debug("running standalone impact query", logging.NewField("root", impactOf))
				dependents, err := determinator.TransitiveDependents(newGraph, graph.PackageId(impactOf), determinator.Options{}.Resolver)
				if err != nil {
					return err
				}
				log.Info("impact query complete", logging.NewField("count", len(dependents)))
				cliutil.PrintPackageIds(cmd.OutOrStdout(), dependents)
				return nil
			}

			oldGraph := newGraph
			if oldMetadataPath != "" {
				oldGraph, err = cliutil.LoadGraph(oldMetadataPath)
				if err != nil {
					return err
				}
				log.Debug("old metadata loaded", logging.NewField("path", oldMetadataPath))
			}
			var rs *rules.Rules
			if rulesPath != "" {
				data, err := os.ReadFile(rulesPath)
				if err != nil {
					return err
				}
				rs, err = rules.Parse(string(data))
				if err != nil {
					return err
				}
				log.Debug("rules parsed", logging.NewField("path", rulesPath))
			}
			log.Debug("computing affected set", logging.NewField("changed-paths", len(changedPaths)))
			set, err := determinator.Determine(oldGraph, newGraph, changedPaths, rs, determinator.Options{})
			if err != nil {
				return err
			}
			log.Info("affected set computed", logging.NewField("count", len(set.Affected)))
			cliutil.PrintPackageIds(cmd.OutOrStdout(), keys(set.Affected))
			return nil
		},
	}
	cmd.Flags().StringVar(&oldMetadataPath, "old-metadata", "", "previous metadata document, for build-summary diffing")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "determinator rules TOML document")
	cmd.Flags().StringSliceVar(&changedPaths, "changed", nil, "changed file path (repeatable)")
	cmd.Flags().StringVar(&impactOf, "impact-of", "", "skip change detection; print every package transitively depending on this package id")
	return cmd
}

func newHakariCmd(metadataPath *string, newLog func() logging.Logger) *cobra.Command {
	var hakariPackage string
	var platforms []string
	var verify bool

	cmd := &cobra.Command{
		Use:   "hakari",
		Short: "Emit a unified workspace-hack dependency manifest fragment",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog().WithComponent("hakari")
			g, err := cliutil.LoadGraph(*metadataPath)
			if err != nil {
				return err
			}
			fg, err := feature.Build(g)
			if err != nil {
				return err
			}
			log.Debug("feature graph built", logging.NewField("path", *metadataPath))
			cfg := hakari.Config{HakariPackage: graph.PackageId(hakariPackage)}
			for _, triple := range platforms {
				cfg.Platforms = append(cfg.Platforms, cliutil.ParsePlatform(triple))
			}
			if verify {
				log.Debug("running in verify mode", logging.NewField("hakari-package", hakariPackage))
				ok, hm, err := hakari.Verify(fg, cfg)
				if err != nil {
					return err
				}
				if !ok {
					log.Warn("unification incomplete", logging.NewField("forced-entries", len(hm)))
					fmt.Fprintf(cmd.OutOrStdout(), "unification incomplete: %d entries still need forcing\n", len(hm))
					os.Exit(1)
				}
				log.Info("unification complete")
				fmt.Fprintln(cmd.OutOrStdout(), "unification complete")
				return nil
			}
			log.Debug("computing fixed-point unification")
			hm, err := hakari.Unify(fg, cfg)
			if err != nil {
				return err
			}
			lines := hakari.Emit(hm, g)
			log.Info("manifest emitted", logging.NewField("lines", len(lines)))
			fmt.Fprint(cmd.OutOrStdout(), hakari.RenderManifest(lines, cfg.Platforms))
			return nil
		},
	}
	cmd.Flags().StringVar(&hakariPackage, "hakari-package", "", "workspace member package id to exclude as the synthesized crate")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "target triple (repeatable); empty means platform-independent")
	cmd.Flags().BoolVar(&verify, "verify", false, "check that the checked-in manifest already unifies everything")
	return cmd
}

func keys(m map[graph.PackageId]bool) []graph.PackageId {
	out := make([]graph.PackageId, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
