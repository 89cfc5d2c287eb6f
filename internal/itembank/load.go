package itembank

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/mod/semver"
)

// SupportedMajor is the bank file format major version this build reads.
const SupportedMajor = "v1"

// ErrUnsupportedVersion indicates a bank file with an unknown format version.
var ErrUnsupportedVersion = errors.New("unsupported bank version")

//go:embed bank.schema.json
var bankSchemaJSON []byte

var (
	bankSchemaOnce sync.Once
	bankSchema     *jsonschema.Schema
	bankSchemaErr  error
)

// File is the on-disk representation of an item bank for one tool.
type File struct {
	Version     string `json:"version"`
	Tool        string `json:"tool"`
	Description string `json:"description,omitempty"`
	Items       []Item `json:"items"`
}

// LoadFile reads and validates a bank file.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bank: %w", err)
	}
	defer f.Close()

	bank, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bank, nil
}

// Decode parses a bank file, checks it against the embedded JSON Schema and
// validates every item. Items without a tool id inherit the file's tool.
func Decode(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read bank: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	schema, err := compiledBankSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var bank File
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&bank); err != nil {
		return nil, fmt.Errorf("decode bank: %w", err)
	}

	if err := checkVersion(bank.Version); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(bank.Items))
	for i := range bank.Items {
		it := &bank.Items[i]
		if it.ToolID == "" {
			it.ToolID = bank.Tool
		}
		if it.ToolID != bank.Tool {
			return nil, fmt.Errorf("%w: item %q belongs to tool %q, file is for %q", ErrMalformedItem, it.ID, it.ToolID, bank.Tool)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("%w: duplicate item id %q", ErrMalformedItem, it.ID)
		}
		seen[it.ID] = true
		if err := it.Validate(); err != nil {
			return nil, err
		}
	}
	return &bank, nil
}

func checkVersion(v string) error {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedVersion, v)
	}
	if major := semver.Major(v); major != SupportedMajor {
		return fmt.Errorf("%w: %s (supported: %s.x)", ErrUnsupportedVersion, major, SupportedMajor)
	}
	return nil
}

func compiledBankSchema() (*jsonschema.Schema, error) {
	bankSchemaOnce.Do(func() {
		var def any
		if err := json.Unmarshal(bankSchemaJSON, &def); err != nil {
			bankSchemaErr = fmt.Errorf("parse bank schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		const url = "schema://adaptiq/bank.json"
		if err := c.AddResource(url, def); err != nil {
			bankSchemaErr = fmt.Errorf("add bank schema: %w", err)
			return
		}
		bankSchema, bankSchemaErr = c.Compile(url)
	})
	return bankSchema, bankSchemaErr
}
