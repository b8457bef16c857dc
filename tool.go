package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/prodcov/prodcov/build"
	"github.com/prodcov/prodcov/compiler/coverage"
	"github.com/prodcov/prodcov/internal/varmap"
)

// Version is the prodcov tool version.
const Version = "0.2.0"

var (
	quiet   bool
	verbose bool
)

func main() {
	cmd := rootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "prodcov",
		Short: "production coverage instrumentation for Go programs",
		Long: "prodcov injects lightweight coverage-tracking calls at the entry of every\n" +
			"function of a program and maintains a compact, reversible parameter mapping\n" +
			"that translates the calls' terse arguments back into source coordinates.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetLevel(log.InfoLevel)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			if quiet {
				log.SetLevel(log.ErrorLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-file detail")
	rootCmd.AddCommand(instrumentCommand())
	rootCmd.AddCommand(decodeCommand())
	return rootCmd
}

// instrumentationFlags are shared by commands that run the build pipeline.
func instrumentationFlags(options *build.Options) *pflag.FlagSet {
	flags := pflag.NewFlagSet("instrumentation", pflag.ContinueOnError)
	flags.StringVarP(&options.OutputDir, "output", "o", "instrumented", "directory the instrumented sources are written to")
	flags.StringVarP(&options.MappingFile, "mapping", "m", "instrumentation_mapping.txt", "file the parameter mapping is written to")
	return flags
}

func instrumentCommand() *cobra.Command {
	options := &build.Options{}
	cmd := &cobra.Command{
		Use:   "instrument [flags] file...",
		Short: "instrument source files in program order",
		Long: "Instrument parses the given files into one program, in the given order,\n" +
			"prepends a reporting call to every eligible function body and writes the\n" +
			"instrumented sources and the parameter mapping out. Only functions visited\n" +
			"after the hook-defining file (" + coverage.HookFileName + ") are eligible.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Files = args
			s, err := build.NewSession(options)
			if err != nil {
				return err
			}
			defer s.Close()
			for {
				if err := s.Run(); err != nil {
					if !options.Watch {
						return err
					}
					// In watch mode a broken intermediate state isn't fatal,
					// the next change gets a fresh attempt.
					log.Errorf("Instrumentation failed: %v.", err)
				}
				if !options.Watch {
					return nil
				}
				s.WaitForChange()
			}
		},
	}
	cmd.Flags().AddFlagSet(instrumentationFlags(options))
	cmd.Flags().BoolVarP(&options.Watch, "watch", "w", false, "re-instrument whenever an input file changes")
	return cmd
}

func decodeCommand() *cobra.Command {
	var mappingFile string
	cmd := &cobra.Command{
		Use:   "decode [flags] identifier...",
		Short: "translate runtime-observed identifiers back to source coordinates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := varmap.Load(mappingFile)
			if err != nil {
				return err
			}
			for _, id := range args {
				c, err := coverage.DecodeParam(m, id)
				if err != nil {
					return fmt.Errorf("failed to decode %q: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mappingFile, "mapping", "m", "instrumentation_mapping.txt", "parameter mapping file to decode against")
	return cmd
}
