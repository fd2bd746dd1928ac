// Package cli provides the command-line interface for docpipe.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docpipe/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// API client, created before any command runs
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Document ingestion pipeline client",
	Long: `Docpipe submits documents to the ingestion server and tracks their
progress: conversion, chunking, embedding, and insertion into a
vector-searchable collection.

Jobs run in the background on the server; submit with --watch for a live
progress bar, or check back later with 'docpipe jobs'.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $DOCPIPE_SERVER_URL or http://localhost:8585)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
