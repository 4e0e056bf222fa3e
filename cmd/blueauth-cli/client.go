package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const sessionCookieName = "blueauth-session"

// CLI holds the client configuration
type CLI struct {
	BaseURL  string
	AuthPath string
	Session  string
	Client   *http.Client
}

type rpcError struct {
	Message string `json:"message"`
}

type rpcResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []rpcError                 `json:"errors"`
}

// ---- HTTP Helpers ----

func (c *CLI) get(path string) ([]byte, error) {
	data, _, err := c.request("GET", path, nil)
	return data, err
}

// call runs an RPC operation and returns its result and any cookies set.
func (c *CLI) call(operation string, variables map[string]any) (json.RawMessage, []*http.Cookie, error) {
	body := map[string]any{"operation": operation}
	if variables != nil {
		body["variables"] = variables
	}

	data, resp, err := c.request("POST", c.AuthPath, body)
	if err != nil {
		return nil, nil, err
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, fmt.Errorf("invalid response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, nil, fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return out.Data[operation], resp.Cookies(), nil
}

func (c *CLI) request(method, path string, body any) ([]byte, *http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.Session})
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	return data, resp, nil
}

// ---- Utility Functions ----

func parseArgs(args []string) map[string]string {
	opts := make(map[string]string)
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			parts := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
			if len(parts) == 2 {
				opts[parts[0]] = parts[1]
			} else {
				opts[parts[0]] = "true"
			}
		}
	}
	return opts
}

func positional(args []string) []string {
	var out []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			out = append(out, arg)
		}
	}
	return out
}

func prettyPrint(data []byte) error {
	var obj any
	if err := json.Unmarshal(data, &obj); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
