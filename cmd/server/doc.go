// Package main is the entry point for the dawnyawn sandbox MCP server.
//
// The server provisions disposable Kali containers on a local container
// engine, drives shell commands inside them over SSH, and hands the
// resulting files back to the planning layer over the Model Context
// Protocol. The application uses Uber's fx framework for dependency
// injection and lifecycle management, with zap for structured logging
// and viper for configuration.
package main
