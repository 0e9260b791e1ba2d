// Package cmd provides the folio CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE chat streaming
//   - migrate: apply pending database migrations and exit
//
// serve handles SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the folio binary.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Folio - document-grounded chat service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  folio serve [addr]  Start the HTTP API server (default: 127.0.0.1:8000)")
	fmt.Println("  folio migrate       Apply pending database migrations and exit")
	fmt.Println("  folio --version     Show version information")
	fmt.Println("  folio --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL        PostgreSQL connection URL (pgvector required)")
	fmt.Println("  FOLIO_JWT_SECRET    Required for serve: HMAC secret for API tokens")
	fmt.Println("  FOLIO_OLLAMA_HOST   Ollama endpoint (default: http://localhost:11434)")
	fmt.Println("  FOLIO_LOG_LEVEL     debug, info, warn, error (default: info)")
	fmt.Println()
	fmt.Println("All settings can also live in config.yaml (./ or ~/.folio/).")
}
