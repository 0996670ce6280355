package utils

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Word lists for memorable run names.
var (
	adjectives = []string{
		"Swift", "Silent", "Iron", "Hidden", "Rapid", "Steady", "Stealth", "Cyber",
		"Quantum", "Atomic", "Cosmic", "Solar", "Lunar", "Storm", "Shadow", "Golden",
		"Silver", "Crimson", "Amber", "Azure", "Prime", "Nova", "Stellar", "Ultra",
	}

	nouns = []string{
		"Bastion", "Rampart", "Citadel", "Bulwark", "Sentinel", "Guardian", "Warden", "Aegis",
		"Falcon", "Hawk", "Phoenix", "Viper", "Cobra", "Wolf", "Ranger", "Scout",
		"Lantern", "Beacon", "Harbor", "Gate", "Tower", "Shield", "Vault", "Moat",
	}

	rngMu sync.Mutex // rand.Rand is not safe for concurrent use
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenerateRunName creates a memorable name for a plan run.
// Format: {Adjective}-{Noun}-Run-{YYYYMMDD}-{Suffix}
// Example: Silent-Bastion-Run-20260301-7X2K
func GenerateRunName() string {
	rngMu.Lock()
	defer rngMu.Unlock()
	adjective := adjectives[rng.Intn(len(adjectives))]
	noun := nouns[rng.Intn(len(nouns))]
	return fmt.Sprintf("%s-%s-Run-%s-%s", adjective, noun, time.Now().Format("20060102"), generateUniqueSuffix())
}

// generateUniqueSuffix creates a short identifier. Callers hold rngMu.
func generateUniqueSuffix() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = charset[rng.Intn(len(charset))]
	}
	return string(suffix)
}

// GetRunDisplayName drops the date and suffix: Silent-Bastion-Run-20260301-7X2K -> Silent Bastion
func GetRunDisplayName(name string) string {
	if i := strings.Index(name, "-Run-"); i > 0 {
		return strings.ReplaceAll(name[:i], "-", " ")
	}
	return name
}
