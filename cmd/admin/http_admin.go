package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"frontline.gg/internal/supply/level"
)

type client struct {
	base string
	hc   *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(strings.TrimSpace(base), "/"), hc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) do(req *http.Request) ([]byte, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return b, fmt.Errorf("%s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return b, nil
}

func (c *client) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *client) post(path string, body any) ([]byte, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) apply(op restoreOp) error {
	if op.Place {
		_, err := c.post("/v1/roads/place", map[string]any{
			"x": op.Pos.X, "y": op.Pos.Y, "z": op.Pos.Z, "team": op.Team, "actor": op.Actor.String(),
		})
		return err
	}
	_, err := c.post("/v1/roads/remove", map[string]any{"x": op.Pos.X, "y": op.Pos.Y, "z": op.Pos.Z})
	return err
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	b, err := newClient(*baseURL).get("/v1/status")
	if err != nil {
		fail(1, "request: %v", err)
	}
	fmt.Println(string(b))
}

// supplyRow mirrors the API's record view.
type supplyRow struct {
	level.Record
	RespawnDelaySeconds   int     `json:"respawn_delay_seconds"`
	HealthRegenMultiplier float64 `json:"health_regen_multiplier"`
}

func supplyCmd(args []string) {
	fs := flag.NewFlagSet("supply", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	team := fs.String("team", "", "team (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*team) == "" {
		fail(2, "missing -team")
	}

	b, err := newClient(*baseURL).get("/v1/supply?team=" + url.QueryEscape(*team))
	if err != nil {
		fail(1, "request: %v", err)
	}
	var rows []supplyRow
	if err := json.Unmarshal(b, &rows); err != nil {
		fail(1, "decode: %v", err)
	}
	recs := make([]level.Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.Record)
	}
	printRecords(recs)
}

func clearCmd(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	round := fs.String("round", "", "start this round (archives the current one)")
	regionID := fs.String("region", "", "clear one region of the active round instead")
	_ = fs.Parse(args)

	q := url.Values{}
	switch {
	case *regionID != "":
		q.Set("region", *regionID)
	case *round != "":
		q.Set("round", *round)
	default:
		fail(2, "missing -round or -region")
	}
	b, err := newClient(*baseURL).post("/v1/admin/clear?"+q.Encode(), nil)
	if err != nil {
		fail(1, "%v", err)
	}
	fmt.Fprintln(os.Stdout, strings.TrimSpace(string(b)))
}
