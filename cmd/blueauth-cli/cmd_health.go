package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

var healthPaths = map[string]string{
	"live":  "/health/live",
	"ready": "/health/ready",
	"full":  "/health",
}

type healthReport struct {
	Status string `json:"status"`
	Checks []struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"checks"`
}

// healthCommand prints the server health. Any HTTP error, including 503 from
// an unhealthy server, is returned.
func (c *CLI) healthCommand(args []string) error {
	sub := "full"
	if pos := positional(args); len(pos) > 0 {
		sub = pos[0]
	}
	path, ok := healthPaths[sub]
	if !ok {
		return fmt.Errorf("unknown health subcommand: %s", sub)
	}

	data, err := c.get(path)
	if err != nil {
		return err
	}
	if opts := parseArgs(args); opts["json"] == "true" {
		return prettyPrint(data)
	}

	var report healthReport
	if err := json.Unmarshal(data, &report); err != nil {
		return prettyPrint(data)
	}
	fmt.Println(strings.ToUpper(report.Status))
	for _, check := range report.Checks {
		line := fmt.Sprintf("  %-10s %s", check.Name, check.Status)
		if check.Message != "" {
			line += " (" + check.Message + ")"
		}
		fmt.Println(line)
	}
	return nil
}
