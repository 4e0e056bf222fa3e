package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ---- Sign-in Commands ----

func identityArgs(opts map[string]string) (map[string]any, error) {
	email := opts["email"]
	if email == "" {
		return nil, errors.New("--email is required")
	}
	ident := map[string]any{"email": email}
	for k, v := range opts {
		if name, ok := strings.CutPrefix(k, "trait."); ok && name != "" {
			ident[name] = v
		}
	}
	return ident, nil
}

func (c *CLI) startCommand(args []string) error {
	opts := parseArgs(args)
	ident, err := identityArgs(opts)
	if err != nil {
		return err
	}

	if _, _, err := c.call("startEmailSignIn", map[string]any{
		"identity":    ident,
		"redirectURL": opts["redirect"],
	}); err != nil {
		return err
	}
	fmt.Printf("Sign-in link sent to %s\n", ident["email"])
	return nil
}

func (c *CLI) registerOrStartCommand(args []string) error {
	opts := parseArgs(args)
	ident, err := identityArgs(opts)
	if err != nil {
		return err
	}

	result, cookies, err := c.call("registerOrStartEmailSignIn", map[string]any{
		"identity":    ident,
		"redirectURL": opts["redirect"],
	})
	if err != nil {
		return err
	}
	fmt.Println(strings.Trim(string(result), `"`))
	printSession(cookies)
	return nil
}

func (c *CLI) registerCommand(args []string) error {
	ident, err := identityArgs(parseArgs(args))
	if err != nil {
		return err
	}

	result, cookies, err := c.call("register", map[string]any{"identity": ident})
	if err != nil {
		return err
	}
	printSession(cookies)
	return prettyPrint(result)
}

func (c *CLI) completeCommand(args []string) error {
	pos := positional(args)
	if len(pos) == 0 {
		return errors.New("token required")
	}
	opts := parseArgs(args)

	result, cookies, err := c.call("completeSignIn", map[string]any{"token": pos[0]})
	if err != nil {
		return err
	}
	if opts["print-session"] == "true" {
		for _, ck := range cookies {
			if ck.Name == sessionCookieName {
				fmt.Println(ck.Value)
			}
		}
		return nil
	}
	fmt.Printf("Signed in, redirect to %s\n", strings.Trim(string(result), `"`))
	printSession(cookies)
	return nil
}

func (c *CLI) whoamiCommand(args []string) error {
	if s := parseArgs(args)["session"]; s != "" {
		c.Session = s
	}

	result, _, err := c.call("whoami", nil)
	if err != nil {
		return err
	}
	if string(result) == "null" {
		fmt.Println("Not signed in")
		return nil
	}
	return prettyPrint(result)
}

func (c *CLI) signOutCommand(args []string) error {
	if _, _, err := c.call("signOut", nil); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func printSession(cookies []*http.Cookie) {
	for _, ck := range cookies {
		if ck.Name == sessionCookieName && ck.Value != "" {
			fmt.Printf("Session: %s\n", ck.Value)
		}
	}
}
