package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/chainoracle/internal/hashlink"
	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/internal/journal"
	"github.com/jmerrifield20/chainoracle/internal/oracle/handler"
	"github.com/jmerrifield20/chainoracle/internal/oracle/repository"
	"github.com/jmerrifield20/chainoracle/internal/oracle/service"
	"github.com/jmerrifield20/chainoracle/pkg/client"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

func oracleServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	j := journal.NewMemory()
	svc := service.NewOracleService(service.Config{
		ProgramID: key.Key32{0xc1},
		SlotSeed:  "chain-oracle",
	}, repository.NewMemorySlotStore(), j, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewSlotHandler(svc, zap.NewNop()).Register(v1)
	handler.NewJournalHandler(j, zap.NewNop()).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// execute runs oraclectl with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	slotFlag, showFormat, advanceCount, slotBalance = "", "text", 1, 0
	encodeHex, keygenForce, chainAll = false, false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseInstruction(t *testing.T) {
	a := key.Key32{1}
	b := key.Key32{2}

	ix, err := parseInstruction("advance", []string{a.String(), b.Hex()})
	require.NoError(t, err)
	assert.Equal(t, instruction.Advance{Next: a, Secret: b}, ix)

	ix, err = parseInstruction("bump", nil)
	require.NoError(t, err)
	assert.Equal(t, instruction.BumpPointer{}, ix)

	_, err = parseInstruction("close", nil)
	assert.ErrorContains(t, err, "unknown instruction")

	_, err = parseInstruction("init", nil)
	assert.ErrorContains(t, err, "takes 1 key argument")

	_, err = parseInstruction("register", []string{"not-a-key"})
	assert.Error(t, err)
}

func TestEncodeCommand(t *testing.T) {
	out, err := execute(t, "encode", "bump", "--hex")
	require.NoError(t, err)
	assert.Equal(t, "02\n", out)
}

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "key.yaml")

	kf, err := newKeyFile()
	require.NoError(t, err)
	require.NoError(t, saveKeyFile(path, kf))

	got, err := loadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, kf.PublicKey, got.PublicKey)
	assert.Equal(t, kf.privateKey(), got.privateKey())
}

func TestLoadKeyFile_mismatchedPublicKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.yaml")
	kf, err := newKeyFile()
	require.NoError(t, err)
	kf.PublicKey[0] ^= 0xff
	require.NoError(t, saveKeyFile(path, kf))

	_, err = loadKeyFile(path)
	assert.ErrorContains(t, err, "does not match")
}

func TestKeygen_refusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.yaml")

	_, err := execute(t, "keygen", "--key", path)
	require.NoError(t, err)
	_, err = execute(t, "keygen", "--key", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "keygen", "--key", path, "--force")
	assert.NoError(t, err)
}

func TestChainGenerateAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")

	out, err := execute(t, "chain", "generate", "--length", "4", "--hash", "sha3", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "generated 4-link sha3 chain")

	out, err = execute(t, "chain", "show", "--chain", path, "--links")
	require.NoError(t, err)
	assert.Contains(t, out, "links: 4")
	assert.Contains(t, out, "POINTER")

	_, err = execute(t, "chain", "generate", "--hash", "md5", "--out", path)
	assert.Error(t, err)
}

func TestNextLink_afterBump(t *testing.T) {
	chain, err := hashlink.GenerateChain(hashlink.Blake2b(), 3, rand.Reader)
	require.NoError(t, err)

	// A bump moved the pointer to 3 but the commitment is still link 2's.
	rec := &client.Record{Pointer: 3, Commitment: chain.Links[1].Commitment}
	link, err := nextLink(chain, rec)
	require.NoError(t, err)
	assert.Equal(t, chain.Links[1], link)

	rec = &client.Record{Pointer: 4, Commitment: chain.Links[2].Next}
	_, err = nextLink(chain, rec)
	assert.ErrorIs(t, err, hashlink.ErrChainExhausted)

	rec = &client.Record{Pointer: 1, Commitment: key.Key32{9}}
	_, err = nextLink(chain, rec)
	assert.ErrorContains(t, err, "is not in")
}

func TestPrintRecord_formats(t *testing.T) {
	rec := &client.Record{Slot: key.Key32{1}, Pointer: 7, CallbackCount: 1, Callbacks: []key.Key32{{2}}}

	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, rec, "json"))
	var fromJSON client.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, uint32(7), fromJSON.Pointer)

	buf.Reset()
	require.NoError(t, printRecord(&buf, rec, "yaml"))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, 7, fromYAML["pointer"])
	assert.Equal(t, rec.Slot.String(), fromYAML["slot"])

	buf.Reset()
	require.NoError(t, printRecord(&buf, rec, "text"))
	assert.Contains(t, buf.String(), "POINTER")
	assert.Contains(t, buf.String(), rec.Callbacks[0].String())

	assert.Error(t, printRecord(&buf, rec, "xml"))
}

func TestPublisherFlow(t *testing.T) {
	srv := oracleServer(t)
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.yaml")
	chainPath := filepath.Join(dir, "chain.yaml")
	common := []string{"--oracle", srv.URL, "--key", keyPath}
	run := func(args ...string) string {
		t.Helper()
		out, err := execute(t, append(args, common...)...)
		require.NoError(t, err, out)
		return out
	}

	run("keygen")
	run("chain", "generate", "--length", "5", "--out", chainPath)

	out := run("allocate")
	assert.Contains(t, out, "allocated slot")

	out = run("init", "--chain", chainPath, "--format", "json")
	var rec client.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.True(t, rec.Initialized)
	assert.Equal(t, uint32(1), rec.Pointer)

	run("advance", "--chain", chainPath, "--count", "2")
	run("bump")
	run("advance", "--chain", chainPath)
	run("register", key.Key32{0xee}.String())

	out = run("show", "--format", "yaml")
	var shown map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 5, shown["pointer"])
	assert.Equal(t, 1, shown["callback_count"])

	chain, err := hashlink.LoadChain(chainPath)
	require.NoError(t, err)
	assert.Equal(t, chain.Links[2].Next.String(), shown["commitment"])

	// The wrong key cannot bump.
	otherKey := filepath.Join(dir, "other.yaml")
	_, err = execute(t, "keygen", "--key", otherKey)
	require.NoError(t, err)
	slot := rec.Slot.String()
	_, err = execute(t, "bump", "--slot", slot, "--oracle", srv.URL, "--key", otherKey)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "MissingRequiredSignature"), err.Error())
}
