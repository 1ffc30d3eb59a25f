package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainoracle/internal/authority"
	"github.com/jmerrifield20/chainoracle/internal/hashlink"
	"github.com/jmerrifield20/chainoracle/internal/journal"
	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
	"github.com/jmerrifield20/chainoracle/internal/oracle/repository"
	"github.com/jmerrifield20/chainoracle/internal/processor"
	"github.com/jmerrifield20/chainoracle/internal/rent"
	"github.com/jmerrifield20/chainoracle/internal/state"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// slotStore is the persistence interface for the oracle service.
// The repository package's Memory, Postgres and SQLite stores satisfy it.
type slotStore interface {
	Create(ctx context.Context, slot *model.Slot) error
	Get(ctx context.Context, k key.Key32) (*model.Slot, error)
	Update(ctx context.Context, k key.Key32, fn repository.UpdateFunc) (*model.Slot, error)
	List(ctx context.Context, limit, offset int) ([]*model.Slot, error)
	Ping(ctx context.Context) error
}

var (
	// ErrBalanceTooLow is returned by Allocate for an explicit balance below
	// the rent-exempt minimum.
	ErrBalanceTooLow = errors.New("balance below rent-exempt minimum")
	// ErrForeignOwner is returned by Allocate when the request names an owner
	// other than this program and Config.AllowForeignOwner is off.
	ErrForeignOwner = errors.New("slot owner must be this program")
)

// Config holds the program-level settings of the oracle.
type Config struct {
	ProgramID key.Key32
	SlotSeed  string
	Linker    hashlink.Linker
	Rent      rent.Rule
	// AllowForeignOwner lets Allocate create slots owned by another program.
	// Only tests exercising the ownership check set it.
	AllowForeignOwner bool
}

// Signer is a key whose proof the transport layer has verified, with the
// record pointer the proof was issued against.
type Signer struct {
	Key     key.Key32
	Pointer uint32
}

// InvokeParams is a decoded invocation request.
type InvokeParams struct {
	Slot    key.Key32
	Caller  key.Key32
	Signers []Signer
	Data    []byte
}

// InvokeResult is returned by Invoke for an accepted invocation.
type InvokeResult struct {
	Instruction string
	View        *model.RecordView
	Entry       *journal.Entry // nil when no journal is configured or the append failed
}

// OracleService hosts the chain processor: it owns the slots, enforces
// exclusive access per invocation and journals accepted transitions.
type OracleService struct {
	cfg     Config
	store   slotStore
	proc    *processor.Processor
	deriver authority.Deriver
	journal journal.Journal // nil = no journal writes
	logger  *zap.Logger
}

// NewOracleService creates an OracleService. journal may be nil.
func NewOracleService(cfg Config, store slotStore, j journal.Journal, logger *zap.Logger) *OracleService {
	if cfg.Linker == nil {
		cfg.Linker = hashlink.Blake2b()
	}
	if cfg.Rent == (rent.Rule{}) {
		cfg.Rent = rent.Default()
	}
	deriver := authority.SeedDeriver{}
	proc := processor.New(processor.Config{
		Verifier: cfg.Linker,
		Deriver:  deriver,
		Rent:     cfg.Rent,
		SlotSeed: cfg.SlotSeed,
	}, logger)

	return &OracleService{
		cfg:     cfg,
		store:   store,
		proc:    proc,
		deriver: deriver,
		journal: j,
		logger:  logger,
	}
}

// Program describes the hosted program.
func (s *OracleService) Program() *model.ProgramInfo {
	return &model.ProgramInfo{
		ProgramID:    s.cfg.ProgramID,
		SlotSeed:     s.cfg.SlotSeed,
		HashLink:     s.cfg.Linker.Name(),
		RecordLen:    state.RecordLen,
		RentMinimum:  s.cfg.Rent.MinimumBalance(state.RecordLen),
		MaxCallbacks: state.MaxCallbacks,
	}
}

// SlotAddress returns the slot address controlled by base.
func (s *OracleService) SlotAddress(base key.Key32) (key.Key32, error) {
	return s.deriver.DeriveAddress(base, s.cfg.SlotSeed, s.cfg.ProgramID)
}

// Allocate creates a zeroed slot at the address derived from req.Base. The
// caller is responsible for having authenticated the holder of req.Base.
func (s *OracleService) Allocate(ctx context.Context, req *model.AllocateRequest) (*model.RecordView, error) {
	addr, err := s.SlotAddress(req.Base)
	if err != nil {
		return nil, fmt.Errorf("derive slot address: %w", err)
	}

	minimum := s.cfg.Rent.MinimumBalance(state.RecordLen)
	slot := &model.Slot{
		Key:     addr,
		Owner:   s.cfg.ProgramID,
		Balance: req.Balance,
		Data:    make([]byte, state.RecordLen),
	}
	if req.Owner != nil && *req.Owner != s.cfg.ProgramID {
		if !s.cfg.AllowForeignOwner {
			return nil, ErrForeignOwner
		}
		slot.Owner = *req.Owner
	}
	switch {
	case slot.Balance == 0:
		slot.Balance = minimum
	case slot.Balance < minimum:
		return nil, fmt.Errorf("%w: %d < %d", ErrBalanceTooLow, slot.Balance, minimum)
	}

	if err := s.store.Create(ctx, slot); err != nil {
		return nil, err
	}
	s.logger.Info("slot allocated",
		zap.Stringer("slot", slot.Key),
		zap.Stringer("base", req.Base),
		zap.Uint64("balance", slot.Balance),
	)
	return model.NewRecordView(slot, &state.Record{}), nil
}

// Record returns the slot at k with its decoded record.
func (s *OracleService) Record(ctx context.Context, k key.Key32) (*model.RecordView, error) {
	slot, err := s.store.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	rec, err := state.Decode(slot.Data)
	if err != nil {
		return nil, fmt.Errorf("decode slot %s: %w", k, err)
	}
	return model.NewRecordView(slot, rec), nil
}

// List returns a page of slots with their decoded records. Slots whose bytes
// do not decode are skipped.
func (s *OracleService) List(ctx context.Context, limit, offset int) ([]*model.RecordView, error) {
	slots, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*model.RecordView, 0, len(slots))
	for _, slot := range slots {
		rec, err := state.Decode(slot.Data)
		if err != nil {
			s.logger.Warn("skipping undecodable slot", zap.Stringer("slot", slot.Key), zap.Error(err))
			continue
		}
		out = append(out, model.NewRecordView(slot, rec))
	}
	return out, nil
}

// Invoke runs one instruction against a slot. The store holds the slot
// exclusively while the processor runs and persists the result only when
// the processor accepts the instruction. Signers whose proof was issued
// against a different pointer than the record now holds do not count.
func (s *OracleService) Invoke(ctx context.Context, p *InvokeParams) (*InvokeResult, error) {
	var res *processor.Result
	slot, err := s.store.Update(ctx, p.Slot, func(slot *model.Slot) error {
		var err error
		res, err = s.proc.Process(&processor.Invocation{
			ProgramID: s.cfg.ProgramID,
			Caller:    p.Caller,
			Signers:   processor.NewSigners(s.currentSigners(slot, p.Signers)...),
			Slot:      &slotAdapter{slot: slot},
			Data:      p.Data,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	name := res.Instruction.Tag().String()
	out := &InvokeResult{
		Instruction: name,
		View:        model.NewRecordView(slot, res.Record),
	}
	out.Entry = s.appendJournal(ctx, &journal.Entry{
		Slot:          p.Slot,
		Instruction:   name,
		Caller:        p.Caller,
		Pointer:       res.Record.Pointer,
		Commitment:    res.Record.Commitment,
		CallbackCount: res.Record.CallbackCount,
	})
	return out, nil
}

// currentSigners returns the keys of signers whose proof pointer matches
// the slot's record. Undecodable slot bytes yield no signers; the processor
// rejects such slots on its own.
func (s *OracleService) currentSigners(slot *model.Slot, signers []Signer) []key.Key32 {
	if len(signers) == 0 {
		return nil
	}
	rec, err := state.Decode(slot.Data)
	if err != nil {
		return nil
	}
	keys := make([]key.Key32, 0, len(signers))
	for _, sg := range signers {
		if sg.Pointer != rec.Pointer {
			s.logger.Debug("ignoring stale signer proof",
				zap.Stringer("slot", slot.Key),
				zap.Stringer("signer", sg.Key),
				zap.Uint32("proof_pointer", sg.Pointer),
				zap.Uint32("pointer", rec.Pointer),
			)
			continue
		}
		keys = append(keys, sg.Key)
	}
	return keys
}

// Ping reports whether the slot store is reachable.
func (s *OracleService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// appendJournal records an accepted transition in a non-fatal manner.
func (s *OracleService) appendJournal(ctx context.Context, e *journal.Entry) *journal.Entry {
	if s.journal == nil {
		return nil
	}
	entry, err := s.journal.Append(ctx, e)
	if err != nil {
		s.logger.Error("journal append failed (non-fatal)",
			zap.String("instruction", e.Instruction),
			zap.Stringer("slot", e.Slot),
			zap.Error(err),
		)
		return nil
	}
	return entry
}

// slotAdapter exposes a stored slot through the processor's Slot capability.
type slotAdapter struct {
	slot *model.Slot
}

func (a *slotAdapter) Key() key.Key32   { return a.slot.Key }
func (a *slotAdapter) Owner() key.Key32 { return a.slot.Owner }
func (a *slotAdapter) Balance() uint64  { return a.slot.Balance }
func (a *slotAdapter) Bytes() []byte    { return a.slot.Data }

func (a *slotAdapter) Replace(data []byte) error {
	if len(data) != len(a.slot.Data) {
		return fmt.Errorf("replace: size %d does not match slot size %d", len(data), len(a.slot.Data))
	}
	a.slot.Data = data
	return nil
}
