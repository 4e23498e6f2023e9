package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sfup/sfup/envelope"
	"github.com/sfup/sfup/evidence"
)

// loadEnvelope reads an OperatingEnvelope from its JSON-on-disk form at
// <config-dir>/envelope.json, starting from envelope.Defaults() and
// validating the result with envelope.New. Unknown keys are rejected by
// encoding/json's DisallowUnknownFields so a typo in a deployment's
// config file fails fast at startup rather than silently using a zero
// value.
func loadEnvelope(path string) (*envelope.OperatingEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open envelope config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	opts := envelope.Defaults()
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("decode envelope config: %w", err)
	}
	return envelope.New(opts)
}

func envelopePath() string {
	return configDir + "/envelope.json"
}

func keysDir() string {
	return configDir + "/keys"
}

// evidencePaths returns the data file and .idx sidecar path for the
// configured evidence directory.
func evidencePaths() (dataPath, idxPath string) {
	return evidenceDir + "/events.log", evidenceDir + "/events.idx"
}

// openEvidenceLog creates the evidence directory if needed and opens
// the log, so every subcommand shares one startup path.
func openEvidenceLog() (*evidence.Log, error) {
	if err := os.MkdirAll(evidenceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	dataPath, idxPath := evidencePaths()
	return evidence.Open(dataPath, idxPath)
}
