package main

import (
	"fmt"
	"io"

	"github.com/MrWong99/parrot/internal/config"
)

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         parrot · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", providerLabel(cfg.Providers.LLM))
	if n := len(cfg.Providers.LLMFallbacks); n > 0 {
		printRow(w, "LLM fallbacks", fmt.Sprint(n))
	}
	printRow(w, "Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow(w, "Lexical store", string(cfg.Stores.Lexical))
	printRow(w, "Vector store", string(cfg.Stores.Vector))
	printRow(w, "Rate limit", fmt.Sprintf("%d/%s (%s)", cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Backend))
	printRow(w, "Max distance", fmt.Sprintf("%.2f", cfg.Retrieval.MaxDistance))
	printRow(w, "Characters", fmt.Sprint(len(cfg.Characters)))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
