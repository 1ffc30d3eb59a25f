package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// keyFileData is the on-disk publisher identity. Seed is the ed25519 seed;
// keep the file private.
type keyFileData struct {
	PublicKey key.Key32 `yaml:"public_key"`
	Seed      key.Key32 `yaml:"seed"`
}

func (k *keyFileData) privateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k.Seed[:])
}

func newKeyFile() (*keyFileData, error) {
	var kf keyFileData
	if _, err := rand.Read(kf.Seed[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	copy(kf.PublicKey[:], kf.privateKey().Public().(ed25519.PublicKey))
	return &kf, nil
}

func saveKeyFile(path string, kf *keyFileData) error {
	b, err := yaml.Marshal(kf)
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}

func loadKeyFile(path string) (*keyFileData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file (run 'oraclectl keygen' first): %w", err)
	}
	var kf keyFileData
	if err := yaml.Unmarshal(b, &kf); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	var pub key.Key32
	copy(pub[:], kf.privateKey().Public().(ed25519.PublicKey))
	if pub != kf.PublicKey {
		return nil, fmt.Errorf("key file %s: public key does not match seed", path)
	}
	return &kf, nil
}

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a publisher key pair",
	Long: `keygen writes a new ed25519 key pair to the key file. The public key is
the publisher's identity: the slot address is derived from it, and Init and
bump must be signed by it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keyFile); err == nil && !keygenForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", keyFile)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		kf, err := newKeyFile()
		if err != nil {
			return err
		}
		if err := saveKeyFile(keyFile, kf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\nwritten to: %s\n", kf.PublicKey, keyFile)
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing key file")
	rootCmd.AddCommand(keygenCmd)
}
