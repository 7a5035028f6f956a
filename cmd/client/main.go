package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ad/docs-qa/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type client struct {
	baseURL string
	http    *http.Client
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "service base URL")
	timeout := flag.Duration("timeout", 2*time.Minute, "per-request timeout")
	flag.Parse()

	c := &client{baseURL: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: *timeout}}
	ctx := context.Background()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"health", c.health},
		{"invoke", c.invoke},
		{"batch", c.batch},
		{"stream", c.stream},
	}

	failed := 0
	for _, step := range steps {
		fmt.Println(titleStyle.Render("== " + step.name))
		if err := step.run(ctx); err != nil {
			failed++
			fmt.Println(failStyle.Render("FAIL: ") + err.Error())
			continue
		}
		fmt.Println(okStyle.Render("OK"))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) invoke(ctx context.Context) error {
	var out struct {
		Output   pipeline.State `json:"output"`
		Metadata struct {
			RunID string `json:"run_id"`
		} `json:"metadata"`
	}
	in := map[string]any{"input": map[string]string{"question": "What is LangSmith?"}}
	if err := c.postJSON(ctx, "/agent/invoke", in, &out); err != nil {
		return err
	}

	fmt.Println("run id:", out.Metadata.RunID)
	fmt.Print(out.Output.FormattedOutput)
	if !out.Output.HasFormattedOutput() {
		return fmt.Errorf("response has no formatted output")
	}
	return nil
}

func (c *client) batch(ctx context.Context) error {
	var out struct {
		Output []json.RawMessage `json:"output"`
	}
	in := map[string]any{"inputs": []map[string]string{
		{"question": "How do I create a dataset?"},
		{"question": "What are evaluators?"},
	}}
	if err := c.postJSON(ctx, "/agent/batch", in, &out); err != nil {
		return err
	}

	for i, raw := range out.Output {
		var state pipeline.State
		if err := json.Unmarshal(raw, &state); err != nil || !state.HasAnswer() {
			fmt.Printf("%d. error: %s\n", i+1, raw)
			continue
		}
		fmt.Printf("%d. %s\n   %s\n", i+1, state.Question, state.Answer)
	}
	return nil
}

func (c *client) stream(ctx context.Context) error {
	in := map[string]any{"input": map[string]string{"question": "How does tracing work?"}}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/stream", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var event string
	updates := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			if event == "end" {
				fmt.Printf("stream complete after %d updates\n", updates)
				return nil
			}
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "data":
				updates++
				var chunk map[string]map[string]string
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					return fmt.Errorf("bad update: %w", err)
				}
				for node, delta := range chunk {
					for field, value := range delta {
						fmt.Printf("[%s] %s: %d chars\n", node, field, len(value))
					}
				}
			case "error":
				return fmt.Errorf("stream error: %s", data)
			default:
				fmt.Printf("[%s] %s\n", event, data)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without an end event")
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
