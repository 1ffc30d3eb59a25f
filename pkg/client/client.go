package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/chainoracle/internal/authority"
	"github.com/jmerrifield20/chainoracle/internal/identity"
	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// ErrNotFound is returned when the slot or journal entry does not exist.
var ErrNotFound = errors.New("not found")

// ProgramError is a rejection reported by the chain processor.
type ProgramError struct {
	Message string `json:"error"`
	Name    string `json:"name"`
	Code    uint32 `json:"code"`
	Custom  bool   `json:"custom"`
}

func (e *ProgramError) Error() string { return e.Message }

// Program describes the oracle's hosted program.
type Program struct {
	ProgramID    key.Key32 `json:"program_id"`
	SlotSeed     string    `json:"slot_seed"`
	HashLink     string    `json:"hash_link"`
	RecordLen    int       `json:"record_len"`
	RentMinimum  uint64    `json:"rent_minimum"`
	MaxCallbacks int       `json:"max_callbacks"`
}

// Record is a slot and its decoded chain record.
type Record struct {
	Slot          key.Key32   `json:"slot"           yaml:"slot"`
	Owner         key.Key32   `json:"owner"          yaml:"owner"`
	Balance       uint64      `json:"balance"        yaml:"balance"`
	Initialized   bool        `json:"initialized"    yaml:"initialized"`
	Commitment    key.Key32   `json:"commitment"     yaml:"commitment"`
	Pointer       uint32      `json:"pointer"        yaml:"pointer"`
	CallbackCount uint32      `json:"callback_count" yaml:"callback_count"`
	Callbacks     []key.Key32 `json:"callbacks"      yaml:"callbacks"`
	UpdatedAt     time.Time   `json:"updated_at"     yaml:"updated_at"`
}

// JournalEntry is one entry of the oracle's transition journal.
type JournalEntry struct {
	Index         int       `json:"index"`
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Slot          key.Key32 `json:"slot"`
	Instruction   string    `json:"instruction"`
	Caller        key.Key32 `json:"caller"`
	Pointer       uint32    `json:"pointer"`
	Commitment    key.Key32 `json:"commitment"`
	CallbackCount uint32    `json:"callback_count"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// InvokeResult is the outcome of an accepted invocation.
type InvokeResult struct {
	Instruction string        `json:"instruction"`
	Record      Record        `json:"record"`
	Journal     *JournalEntry `json:"journal,omitempty"`
}

// Client talks to an oracled instance.
type Client struct {
	base       string
	httpClient *http.Client
	signer     ed25519.PrivateKey
	proofTTL   time.Duration
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithSigner sets the key used as caller and signer by the instruction
// helpers (Init, Advance, BumpPointer, RegisterCallback).
func WithSigner(priv ed25519.PrivateKey) Option {
	return func(c *Client) error {
		if len(priv) != ed25519.PrivateKeySize {
			return fmt.Errorf("signer key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}
		c.signer = priv
		return nil
	}
}

// WithProofTTL sets the lifetime of the signer proofs the client issues.
func WithProofTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.proofTTL = ttl
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the oracle at base.
//
//	c, err := client.New("http://localhost:8080", client.WithSigner(priv))
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Signer returns the public key of the configured signer, or the zero key.
func (c *Client) Signer() key.Key32 {
	if c.signer == nil {
		return key.Key32{}
	}
	return identity.PublicKey(c.signer)
}

// Program fetches the hosted program's parameters.
func (c *Client) Program(ctx context.Context) (*Program, error) {
	var out Program
	if err := c.call(ctx, http.MethodGet, "/api/v1/program", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Allocate creates the slot controlled by the configured signer. A zero
// balance requests the rent-exempt minimum.
func (c *Client) Allocate(ctx context.Context, balance uint64) (*Record, error) {
	if c.signer == nil {
		return nil, errors.New("allocate requires a signer (see WithSigner)")
	}
	info, err := c.Program(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch program: %w", err)
	}
	base := c.Signer()
	slot, err := authority.SeedDeriver{}.DeriveAddress(base, info.SlotSeed, info.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive slot address: %w", err)
	}
	proof, err := identity.IssueProof(c.signer, identity.Scope{Action: identity.ActionAllocate, Slot: slot}, c.proofTTL)
	if err != nil {
		return nil, err
	}

	req := struct {
		Base    key.Key32 `json:"base"`
		Balance uint64    `json:"balance"`
		Proof   string    `json:"proof"`
	}{base, balance, proof}

	var out Record
	if err := c.call(ctx, http.MethodPost, "/api/v1/slots", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record fetches a slot and its decoded record.
func (c *Client) Record(ctx context.Context, slot key.Key32) (*Record, error) {
	var out Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/slots/"+slot.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSlots returns a page of slots.
func (c *Client) ListSlots(ctx context.Context, limit, offset int) ([]Record, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out struct {
		Slots []Record `json:"slots"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/slots?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// Invoke submits raw instruction bytes against slot on behalf of caller. One
// proof is attached per signer key, bound to the slot's current pointer; a
// proof stops counting once another instruction moves the pointer first.
func (c *Client) Invoke(ctx context.Context, slot, caller key.Key32, data []byte, signers ...ed25519.PrivateKey) (*InvokeResult, error) {
	proofs := make([]string, 0, len(signers))
	if len(signers) > 0 {
		rec, err := c.Record(ctx, slot)
		if err != nil {
			return nil, fmt.Errorf("read pointer: %w", err)
		}
		scope := identity.Scope{Action: identity.ActionInvoke, Slot: slot, Pointer: rec.Pointer, Data: data}
		for _, s := range signers {
			p, err := identity.IssueProof(s, scope, c.proofTTL)
			if err != nil {
				return nil, err
			}
			proofs = append(proofs, p)
		}
	}

	req := struct {
		Caller      key.Key32 `json:"caller"`
		Instruction []byte    `json:"instruction"`
		Proofs      []string  `json:"proofs,omitempty"`
	}{caller, data, proofs}

	var out InvokeResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/slots/"+slot.String()+"/invoke", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Init initialises slot with the first commitment of a hash chain, signed by
// the configured signer.
func (c *Client) Init(ctx context.Context, slot, commitment key.Key32) (*InvokeResult, error) {
	if c.signer == nil {
		return nil, errors.New("init requires a signer (see WithSigner)")
	}
	return c.Invoke(ctx, slot, c.Signer(), instruction.Pack(instruction.Init{InitialCommitment: commitment}), c.signer)
}

// Advance reveals one link of the chain.
func (c *Client) Advance(ctx context.Context, slot, next, secret key.Key32) (*InvokeResult, error) {
	return c.Invoke(ctx, slot, c.Signer(), instruction.Pack(instruction.Advance{Next: next, Secret: secret}))
}

// BumpPointer increments the pointer without revealing, signed by the
// configured signer.
func (c *Client) BumpPointer(ctx context.Context, slot key.Key32) (*InvokeResult, error) {
	if c.signer == nil {
		return nil, errors.New("bump requires a signer (see WithSigner)")
	}
	return c.Invoke(ctx, slot, c.Signer(), instruction.Pack(instruction.BumpPointer{}), c.signer)
}

// RegisterCallback appends addr to the slot's callback list.
func (c *Client) RegisterCallback(ctx context.Context, slot, addr key.Key32) (*InvokeResult, error) {
	return c.Invoke(ctx, slot, c.Signer(), instruction.Pack(instruction.RegisterCallback{Address: addr}))
}

// JournalEntry fetches one journal entry.
func (c *Client) JournalEntry(ctx context.Context, idx int) (*JournalEntry, error) {
	var out JournalEntry
	if err := c.call(ctx, http.MethodGet, "/api/v1/journal/entries/"+strconv.Itoa(idx), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyJournal asks the oracle to walk its journal. It returns the
// integrity failure, if any, as reason.
func (c *Client) VerifyJournal(ctx context.Context) (valid bool, reason string, err error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/journal/verify", nil, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// call sends a JSON request and decodes a JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes req and maps error statuses to typed errors.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		perr := &ProgramError{}
		if err := json.Unmarshal(body, perr); err != nil {
			return nil, fmt.Errorf("decode program error: %w", err)
		}
		return nil, perr
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
