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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/scheduler"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func newRunCmd() *cobra.Command {
	var (
		file   string
		inputs []string
		mode   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow locally and print its events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			def, err := loadDefinition(file)
			if err != nil {
				return err
			}
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			runCfg := map[string]any{}
			if mode != "" {
				if _, err := scheduler.ParseMode(mode); err != nil {
					return err
				}
				runCfg["mode"] = mode
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			sched := scheduler.New(newRegistry(cfg), cfg.SchedulerOptions()...)
			events, err := sched.Execute(ctx, def, in, scheduler.WithConfig(runCfg))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			var result *workflow.ExecutionResponse
			for e := range events {
				if err := enc.Encode(e); err != nil {
					return fmt.Errorf("write event: %w", err)
				}
				if e.Type == event.TypeWorkflowComplete {
					result = e.Result
				}
			}
			if result == nil {
				return fmt.Errorf("workflow %s finished without a result", def.Name)
			}
			if result.Status != workflow.ExecutionCompleted {
				return fmt.Errorf("workflow %s %s: %s", def.Name, result.Status, result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow file (.json or .yaml)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "run input as key=value, repeatable; JSON values keep their type")
	cmd.Flags().StringVar(&mode, "mode", "", "execution mode: sequential or parallel")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
