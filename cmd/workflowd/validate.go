//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

var errInvalidWorkflow = errors.New("workflow is invalid")

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a workflow file and print every violation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := loadDefinition(file)
			if err != nil {
				return err
			}
			errs := workflow.ValidateAll(def)
			out := cmd.OutOrStdout()
			if len(errs) == 0 {
				fmt.Fprintf(out, "%s: valid (%d nodes, %d edges)\n", def.Name, len(def.Nodes), len(def.Edges))
				return nil
			}
			for _, err := range errs {
				fmt.Fprintf(out, "- %v\n", err)
			}
			return errInvalidWorkflow
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow file (.json or .yaml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
