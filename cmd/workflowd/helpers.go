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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-workflow-go/config"
	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/executor/builtin"
	"trpc.group/trpc-go/trpc-workflow-go/executor/remote"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// loadConfig reads --config and applies the log section.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Configure(cmd.ErrOrStderr(), cfg.Log.Format)
	log.SetLevel(cfg.Log.Level)
	return cfg, nil
}

// newRegistry registers the control executors and one remote executor per
// configured service.
func newRegistry(cfg *config.Config) *executor.Registry {
	reg := executor.NewRegistry()
	builtin.Register(reg)
	remote.Register(reg, cfg.RemoteServices())
	return reg
}

// loadDefinition reads a workflow file. The format follows the extension,
// or the first character when the extension is neither JSON nor YAML.
func loadDefinition(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var def workflow.Definition
	ext := strings.ToLower(filepath.Ext(path))
	isJSON := ext == ".json" ||
		(ext != ".yaml" && ext != ".yml" && bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")))
	if isJSON {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse workflow json: %w", err)
		}
		return &def, nil
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow yaml: %w", err)
	}
	return &def, nil
}

// parseInputs turns key=value pairs into run inputs. Values that parse as
// JSON keep their type; everything else is a string.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[key] = v
	}
	return inputs, nil
}
