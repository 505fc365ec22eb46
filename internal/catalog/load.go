package catalog

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a catalog override. JSON files decode too,
// since YAML is a superset.
type File struct {
	Version   string  `yaml:"version" json:"version"`
	Actions   []Entry `yaml:"actions" json:"actions"`
	Signature string  `yaml:"signature,omitempty" json:"signature,omitempty"`
}

// ParseFile decodes an override payload. When secret is non-empty the file
// must carry a valid signature.
func ParseFile(data []byte, secret string) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: file is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(f.Actions) == 0 {
		return nil, fmt.Errorf("catalog: file declares no actions")
	}
	c, err := New(f.Actions...)
	if err != nil {
		return nil, err
	}
	if secret != "" {
		if err := verifySignature(c.Entries(), f.Signature, secret); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadFile reads a catalog override from path.
func LoadFile(path, secret string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("catalog: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := ParseFile(data, secret)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// ComputeChecksum returns a deterministic hash of normalized entries in order.
func ComputeChecksum(entries []Entry) (string, error) {
	normalized := make([]Entry, len(entries))
	for i, e := range entries {
		normalized[i] = e.Normalized()
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Sign computes an HMAC signature of the entries' checksum.
func Sign(entries []Entry, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(entries)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func verifySignature(entries []Entry, signature, secret string) error {
	expected, err := Sign(entries, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("catalog: signature mismatch")
	}
	return nil
}
