package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prokashpul/prompts/core"
	"github.com/prokashpul/prompts/core/llm"
)

const genUsage = `usage: prompts gen [-config path] [-provider gemini|groq|mistral] [-n 1-5] (-text IDEA | IMAGE...)`

// runGen performs one generation from the command line and returns the exit code.
func runGen(args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("gen", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() {
		fmt.Fprintln(stderr, genUsage)
		fset.PrintDefaults()
	}
	configPath := fset.String("config", "config.toml", "path to the TOML config file")
	providerName := fset.String("provider", "", "provider to use (default from config)")
	count := fset.Int("n", 0, "number of variations for a text idea (default from config)")
	text := fset.String("text", "", "text idea to expand")
	timeout := fset.Duration("timeout", 2*time.Minute, "overall deadline")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	files := fset.Args()
	if (*text == "") == (len(files) == 0) {
		fset.Usage()
		return 2
	}

	logger := newLogger(LogConfig{Level: "warn"}, stderr)
	loadDotEnv(logger)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger = newLogger(LogConfig{Level: cfg.Log.Level, JSON: cfg.Log.JSON}, stderr)

	if *providerName == "" {
		*providerName = cfg.LLM.DefaultProvider
	}
	provider, err := llm.ParseProvider(*providerName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	n := cfg.LLM.DefaultCount
	if *count != 0 {
		n = *count
	}
	n = core.ClampCount(n)

	adapter := llm.New(cfg.LLM, llm.WithLogger(logger))
	creds := cfg.OperatorKeys()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *text != "" {
		prompts, err := adapter.Generate(ctx, provider, llm.TextInput(*text), creds, n)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		for i, p := range prompts {
			fmt.Fprintf(stdout, "%d. %s\n", i+1, p)
		}
		return 0
	}

	items := make([]llm.BatchItem, 0, len(files))
	for _, path := range files {
		img, err := readImage(path)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		items = append(items, llm.BatchItem{ID: filepath.Base(path), Input: llm.Input{Image: img}})
	}

	failed := 0
	for _, r := range adapter.GenerateBatch(ctx, provider, items, creds, n) {
		if r.Err != nil {
			failed++
			fmt.Fprintf(stdout, "❌ %s: %v\n", r.ID, r.Err)
			continue
		}
		fmt.Fprintf(stdout, "✅ %s\n", r.ID)
		for _, p := range r.Prompts {
			fmt.Fprintf(stdout, "   %s\n", p)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func readImage(path string) (*llm.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New(path + ": empty file")
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &llm.Image{Data: data, MIMEType: mimeType, Name: filepath.Base(path)}, nil
}
