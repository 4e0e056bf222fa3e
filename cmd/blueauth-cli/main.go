package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// Version is set at build time
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	cli := &CLI{
		BaseURL:  getEnv("BLUEAUTH_URL", "http://localhost:8080"),
		AuthPath: getEnv("BLUEAUTH_BASE_PATH", "/api/auth"),
		Session:  os.Getenv("BLUEAUTH_SESSION"),
		Client:   &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch cmd {
	case "start":
		err = cli.startCommand(args)
	case "register":
		err = cli.registerCommand(args)
	case "register-or-start":
		err = cli.registerOrStartCommand(args)
	case "complete":
		err = cli.completeCommand(args)
	case "whoami":
		err = cli.whoamiCommand(args)
	case "signout", "sign-out":
		err = cli.signOutCommand(args)
	case "health":
		err = cli.healthCommand(args)
	case "version":
		fmt.Printf("blueauth-cli %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`blueauth-cli - blueauth Command Line Interface

Usage:
  blueauth-cli <command> [options]

Environment Variables:
  BLUEAUTH_URL        Base URL of the blueauth server (default: http://localhost:8080)
  BLUEAUTH_BASE_PATH  Mount path of the auth endpoint (default: /api/auth)
  BLUEAUTH_SESSION    Session token sent as the session cookie

Commands:
  start              --email=EMAIL [--redirect=URL]   Email a sign-in link
  register           --email=EMAIL [--trait.KEY=VAL]  Create an identity
  register-or-start  --email=EMAIL [--redirect=URL]   Create if needed, then sign in
  complete           <token>                          Redeem a sign-in token
  whoami             [--session=TOKEN]                Show the current identity
  signout                                             Clear the session

  health    Check server health [--json]
    live    Liveness check
    ready   Readiness check
    full    Full health report

  version   Show CLI version
  help      Show this help

Examples:
  # Send a sign-in link
  blueauth-cli start --email=ann@example.com --redirect=/dashboard

  # Redeem the token from the link and check the session
  export BLUEAUTH_SESSION=$(blueauth-cli complete eyJhbGciOi... --print-session)
  blueauth-cli whoami
`)
}
