package hashlink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// ErrChainExhausted is returned by Chain.Step past the last link.
var ErrChainExhausted = errors.New("hash chain exhausted")

// Link is one reveal step: Commitment = H(Next || Secret).
type Link struct {
	Commitment key.Key32 `yaml:"commitment"`
	Next       key.Key32 `yaml:"next"`
	Secret     key.Key32 `yaml:"secret"`
}

// Chain is a publisher's precomputed sequence of reveals. Links[i].Next is
// Links[i+1].Commitment, so revealing the links in order walks the chain.
type Chain struct {
	Construction string `yaml:"construction"`
	Links        []Link `yaml:"links"`
}

// GenerateChain draws a random tail and n random secrets from rand and folds
// them backwards into a chain of n links.
func GenerateChain(l Linker, n int, rand io.Reader) (*Chain, error) {
	if n <= 0 {
		return nil, fmt.Errorf("chain length must be positive, got %d", n)
	}

	var next key.Key32
	if _, err := io.ReadFull(rand, next[:]); err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}

	links := make([]Link, n)
	for i := n - 1; i >= 0; i-- {
		var secret key.Key32
		if _, err := io.ReadFull(rand, secret[:]); err != nil {
			return nil, fmt.Errorf("read secret %d: %w", i, err)
		}
		links[i] = Link{Commitment: l.Link(next, secret), Next: next, Secret: secret}
		next = links[i].Commitment
	}
	return &Chain{Construction: l.Name(), Links: links}, nil
}

// Genesis returns the commitment to publish with Init.
func (c *Chain) Genesis() key.Key32 {
	return c.Links[0].Commitment
}

// Step returns the reveal that advances a record whose pointer is pointer.
// A freshly initialised record has pointer 1 and takes Links[0].
func (c *Chain) Step(pointer uint32) (Link, error) {
	if pointer == 0 || int(pointer) > len(c.Links) {
		return Link{}, ErrChainExhausted
	}
	return c.Links[pointer-1], nil
}

// Verify checks every link and the continuity between links.
func (c *Chain) Verify(v Verifier) error {
	for i, ln := range c.Links {
		if !v.Verify(ln.Commitment, ln.Next, ln.Secret) {
			return fmt.Errorf("link %d does not verify", i)
		}
		if i+1 < len(c.Links) && c.Links[i+1].Commitment != ln.Next {
			return fmt.Errorf("chain broken between links %d and %d", i, i+1)
		}
	}
	return nil
}

// SaveChain writes c as YAML with owner-only permissions; it holds secrets.
func SaveChain(path string, c *Chain) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chain: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write chain file: %w", err)
	}
	return nil
}

// LoadChain reads a chain written by SaveChain.
func LoadChain(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	var c Chain
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse chain file: %w", err)
	}
	if len(c.Links) == 0 {
		return nil, fmt.Errorf("chain file %s has no links", path)
	}
	return &c, nil
}
