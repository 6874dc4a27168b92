//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Command workflowd serves, validates and runs image-processing workflows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "workflowd",
		Short: "Workflow execution engine for image-processing pipelines",
		Long: "workflowd validates and executes node/edge workflow graphs, serves them\n" +
			"over REST with progress streaming and publishes locked sessions.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the YAML configuration file")
	root.AddCommand(newServeCmd(), newValidateCmd(), newRunCmd(), newNodeTypesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
