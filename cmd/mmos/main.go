// Package main is the entry point for the mmos CLI, the multi-model
// orchestration system. It coordinates projects, tasks and a fleet of
// model workers over a shared SQLite store, exposing one MCP server per
// role (orchestrator, executor) plus operator commands for setup, status
// and an interactive dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	// stdout carries the MCP stdio transport for serve/worker, so all
	// ambient logging goes to stderr.
	logrus.SetOutput(os.Stderr)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
