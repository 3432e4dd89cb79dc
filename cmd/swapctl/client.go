package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperbarter/pkg/api"
)

// nodeClient talks to the REST API of one node
type nodeClient struct {
	base string
	http *http.Client
}

func getClient(ctx *cli.Context) *nodeClient {
	return &nodeClient{
		base: strings.TrimRight(ctx.String("node"), "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError is a non-2xx answer of the node
type apiError struct {
	Status int
	api.ErrorResponse
}

func (e *apiError) Error() string {
	return fmt.Sprintf("node answered %d %s: %s", e.Status, e.ErrorResponse.Error, e.Message)
}

func (c *nodeClient) get(path string, out interface{}) error {
	return c.do("GET", path, nil, out)
}

func (c *nodeClient) post(path string, body []byte, out interface{}) error {
	return c.do("POST", path, body, out)
}

func (c *nodeClient) do(method, path string, body []byte, out interface{}) error {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		e := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, &e.ErrorResponse) != nil {
			e.Message = strings.TrimSpace(string(data))
		}
		return e
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, out)
}

func printJSON(ctx *cli.Context, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, string(out))
	return nil
}
