package config

import (
	"reflect"
	"slices"
	"strings"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// ConfigDiff describes the hot-reloadable differences between two configs.
// Everything else (listen address, stores, providers, limiter) needs a
// restart and is reported only through RestartRequired.
type ConfigDiff struct {
	CharactersChanged bool
	CharacterChanges  []CharacterDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists top-level sections that changed but are not
	// applied until the process restarts.
	RestartRequired []string
}

// CharacterDiff describes the change to a single character persona.
type CharacterDiff struct {
	Name               string
	Added              bool
	Removed            bool
	PersonalityChanged bool
}

// Diff compares old and new configs. Characters are matched by normalised
// name, so renaming "The Joker" to "the joker" is not a change.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldChars := characterIndex(old.Characters)
	newChars := characterIndex(new.Characters)

	for key, oc := range oldChars {
		nc, ok := newChars[key]
		switch {
		case !ok:
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{Name: oc.Name, Removed: true})
		case oc.Personality != nc.Personality:
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{Name: nc.Name, PersonalityChanged: true})
		}
	}
	for key, nc := range newChars {
		if _, ok := oldChars[key]; !ok {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{Name: nc.Name, Added: true})
		}
	}
	slices.SortFunc(d.CharacterChanges, func(a, b CharacterDiff) int {
		return strings.Compare(dialogue.NormalizeCharacter(a.Name), dialogue.NormalizeCharacter(b.Name))
	})
	d.CharactersChanged = len(d.CharacterChanges) > 0

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Stores != new.Stores {
		d.RestartRequired = append(d.RestartRequired, "stores")
	}
	if old.Retrieval != new.Retrieval {
		d.RestartRequired = append(d.RestartRequired, "retrieval")
	}
	if old.Generation != new.Generation {
		d.RestartRequired = append(d.RestartRequired, "generation")
	}
	if old.WriteBack != new.WriteBack {
		d.RestartRequired = append(d.RestartRequired, "write_back")
	}
	if old.RateLimit != new.RateLimit {
		d.RestartRequired = append(d.RestartRequired, "rate_limit")
	}
	return d
}

func characterIndex(chars []CharacterConfig) map[string]CharacterConfig {
	m := make(map[string]CharacterConfig, len(chars))
	for _, c := range chars {
		m[dialogue.NormalizeCharacter(c.Name)] = c
	}
	return m
}

// sameServer ignores the log level, which is hot-reloadable.
func sameServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.TrustForwardedFor != b.TrustForwardedFor || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	}
	return *a.TLS == *b.TLS
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) &&
		sameEntry(a.Embeddings, b.Embeddings) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, sameEntry) &&
		slices.EqualFunc(a.EmbeddingFallbacks, b.EmbeddingFallbacks, sameEntry)
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
