// Package processor implements the chain oracle's state machine.
//
// A slot is either uninitialized or initialized. Init moves it to initialized
// exactly once; Advance, BumpPointer and RegisterCallback are self transitions.
// Every transition decodes the full record, checks each precondition in order,
// builds the next record in memory and only then writes it back with a single
// Replace. A rejected invocation never touches the slot.
package processor

import (
	"math"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainoracle/internal/authority"
	"github.com/jmerrifield20/chainoracle/internal/hashlink"
	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/internal/state"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// Slot is the storage capability for one chain record.
type Slot interface {
	Key() key.Key32
	Owner() key.Key32
	Balance() uint64
	Bytes() []byte
	Replace(data []byte) error
}

// SignerSet reports which keys signed the current invocation.
type SignerSet interface {
	IsSigner(k key.Key32) bool
}

// Signers is a SignerSet backed by a map.
type Signers map[key.Key32]struct{}

// NewSigners returns a set containing keys.
func NewSigners(keys ...key.Key32) Signers {
	s := make(Signers, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// IsSigner implements SignerSet.
func (s Signers) IsSigner(k key.Key32) bool {
	_, ok := s[k]
	return ok
}

// Invocation is a single request against one slot.
type Invocation struct {
	ProgramID key.Key32
	Caller    key.Key32
	Signers   SignerSet
	Slot      Slot
	Data      []byte
}

// Result describes an accepted invocation.
type Result struct {
	Instruction instruction.Instruction
	Record      *state.Record
}

// Config holds the processor's injected capabilities.
type Config struct {
	Verifier hashlink.Verifier
	Deriver  authority.Deriver
	Rent     authority.RentOracle
	SlotSeed string
}

// Processor evaluates invocations. It holds no per-slot state and is safe for
// concurrent use provided each slot is accessed exclusively.
type Processor struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Processor.
func New(cfg Config, logger *zap.Logger) *Processor {
	return &Processor{cfg: cfg, logger: logger}
}

// Process unpacks inv.Data and applies the instruction to inv.Slot.
func (p *Processor) Process(inv *Invocation) (*Result, error) {
	ix, err := instruction.Unpack(inv.Data)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("instruction",
		zap.String("name", ix.Tag().String()),
		zap.Stringer("slot", inv.Slot.Key()),
		zap.Stringer("caller", inv.Caller),
	)

	var rec *state.Record
	switch v := ix.(type) {
	case instruction.Init:
		rec, err = p.processInit(inv, v)
	case instruction.Advance:
		rec, err = p.processAdvance(inv, v)
	case instruction.BumpPointer:
		rec, err = p.processBumpPointer(inv)
	case instruction.RegisterCallback:
		rec, err = p.processRegisterCallback(inv, v)
	default:
		return nil, programerr.ErrInvalidInstruction
	}
	if err != nil {
		return nil, err
	}
	return &Result{Instruction: ix, Record: rec}, nil
}

func (p *Processor) processInit(inv *Invocation, ix instruction.Init) (*state.Record, error) {
	rec, err := p.load(inv)
	if err != nil {
		return nil, err
	}
	if rec.IsInitialized() {
		return nil, programerr.ErrAccountAlreadyInitialized
	}
	if err := p.requireAuthority(inv); err != nil {
		return nil, err
	}
	if err := authority.RequireRentExempt(inv.Slot.Balance(), len(inv.Slot.Bytes()), p.cfg.Rent); err != nil {
		return nil, err
	}

	next := &state.Record{
		Initialized: true,
		Commitment:  ix.InitialCommitment,
		Pointer:     1,
	}
	return next, p.store(inv, next)
}

func (p *Processor) processAdvance(inv *Invocation, ix instruction.Advance) (*state.Record, error) {
	rec, err := p.loadInitialized(inv)
	if err != nil {
		return nil, err
	}
	if !p.cfg.Verifier.Verify(rec.Commitment, ix.Next, ix.Secret) {
		return nil, programerr.ErrIncorrectSecretOrHash
	}

	next := *rec
	next.Commitment = ix.Next
	if next.Pointer, err = increment(rec.Pointer); err != nil {
		return nil, err
	}
	return &next, p.store(inv, &next)
}

func (p *Processor) processBumpPointer(inv *Invocation) (*state.Record, error) {
	if err := p.requireAuthority(inv); err != nil {
		return nil, err
	}
	rec, err := p.loadInitialized(inv)
	if err != nil {
		return nil, err
	}

	next := *rec
	if next.Pointer, err = increment(rec.Pointer); err != nil {
		return nil, err
	}
	return &next, p.store(inv, &next)
}

func (p *Processor) processRegisterCallback(inv *Invocation, ix instruction.RegisterCallback) (*state.Record, error) {
	rec, err := p.loadInitialized(inv)
	if err != nil {
		return nil, err
	}

	next := *rec
	if err := next.AddCallback(ix.Address); err != nil {
		return nil, err
	}
	return &next, p.store(inv, &next)
}

// requireAuthority checks the caller signed and that the slot address is the
// one derived from the caller with the program seed.
func (p *Processor) requireAuthority(inv *Invocation) error {
	if err := authority.RequireSigner(inv.Signers != nil && inv.Signers.IsSigner(inv.Caller)); err != nil {
		return err
	}
	derived, err := p.cfg.Deriver.DeriveAddress(inv.Caller, p.cfg.SlotSeed, inv.ProgramID)
	if err != nil {
		return err
	}
	return authority.RequireControllingAuthority(inv.Slot.Key(), derived)
}

// load checks ownership before trusting any slot bytes.
func (p *Processor) load(inv *Invocation) (*state.Record, error) {
	if inv.Slot.Owner() != inv.ProgramID {
		return nil, programerr.ErrIncorrectProgramID
	}
	return state.Decode(inv.Slot.Bytes())
}

func (p *Processor) loadInitialized(inv *Invocation) (*state.Record, error) {
	rec, err := p.load(inv)
	if err != nil {
		return nil, err
	}
	if !rec.IsInitialized() {
		return nil, programerr.ErrUninitializedAccount
	}
	return rec, nil
}

// store encodes rec over a copy of the current bytes and replaces the slot
// contents in one call.
func (p *Processor) store(inv *Invocation, rec *state.Record) error {
	buf := append([]byte(nil), inv.Slot.Bytes()...)
	if err := state.Encode(rec, buf); err != nil {
		return err
	}
	return inv.Slot.Replace(buf)
}

func increment(ptr uint32) (uint32, error) {
	if ptr == math.MaxUint32 {
		return 0, programerr.ErrArithmeticOverflow
	}
	return ptr + 1, nil
}
