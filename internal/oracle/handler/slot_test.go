package handler_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainoracle/internal/hashlink"
	"github.com/jmerrifield20/chainoracle/internal/identity"
	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/internal/journal"
	"github.com/jmerrifield20/chainoracle/internal/oracle/handler"
	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
	"github.com/jmerrifield20/chainoracle/internal/oracle/repository"
	"github.com/jmerrifield20/chainoracle/internal/oracle/service"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

var programID = key.Key32{0xb0}

type testEnv struct {
	router *gin.Engine
	svc    *service.OracleService
	priv   ed25519.PrivateKey
	admin  key.Key32
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	j := journal.NewMemory()
	svc := service.NewOracleService(service.Config{
		ProgramID: programID,
		SlotSeed:  "chain-oracle",
		Linker:    hashlink.Blake2b(),
	}, repository.NewMemorySlotStore(), j, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewSlotHandler(svc, zap.NewNop()).Register(v1)
	handler.NewJournalHandler(j, zap.NewNop()).Register(v1)
	r.GET("/metrics", handler.MetricsHandler())

	return &testEnv{router: r, svc: svc, priv: priv, admin: identity.PublicKey(priv)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// allocateRequest builds an allocate request for base signed by priv.
func (e *testEnv) allocateRequest(t *testing.T, priv ed25519.PrivateKey, base key.Key32) model.AllocateRequest {
	t.Helper()
	addr, err := e.svc.SlotAddress(base)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := identity.IssueProof(priv, identity.Scope{Action: identity.ActionAllocate, Slot: addr}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return model.AllocateRequest{Base: base, Proof: proof}
}

func (e *testEnv) allocate(t *testing.T) key.Key32 {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/slots", e.allocateRequest(t, e.priv, e.admin))
	if w.Code != http.StatusCreated {
		t.Fatalf("allocate: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var view model.RecordView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	return view.Slot
}

// invokeRequest builds an invocation, signed against the slot's current
// pointer when sign is set.
func (e *testEnv) invokeRequest(t *testing.T, slot key.Key32, ix instruction.Instruction, sign bool) model.InvokeRequest {
	t.Helper()
	data := instruction.Pack(ix)
	req := model.InvokeRequest{Caller: e.admin, Instruction: data}
	if sign {
		var ptr uint32
		if view, err := e.svc.Record(context.Background(), slot); err == nil {
			ptr = view.Pointer
		}
		scope := identity.Scope{Action: identity.ActionInvoke, Slot: slot, Pointer: ptr, Data: data}
		proof, err := identity.IssueProof(e.priv, scope, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		req.Proofs = []string{proof}
	}
	return req
}

func (e *testEnv) invoke(t *testing.T, slot key.Key32, ix instruction.Instruction, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/slots/"+slot.String()+"/invoke", e.invokeRequest(t, slot, ix, sign))
}

func (e *testEnv) pointer(t *testing.T, slot key.Key32) uint32 {
	t.Helper()
	view, err := e.svc.Record(context.Background(), slot)
	if err != nil {
		t.Fatal(err)
	}
	return view.Pointer
}

func decodeProgramError(t *testing.T, w *httptest.ResponseRecorder) model.ProgramError {
	t.Helper()
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var perr model.ProgramError
	if err := json.Unmarshal(w.Body.Bytes(), &perr); err != nil {
		t.Fatal(err)
	}
	return perr
}

// ── Program / slots ─────────────────────────────────────────────────────

func TestProgram_200(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/v1/program", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var info model.ProgramInfo
	json.Unmarshal(w.Body.Bytes(), &info)
	if info.ProgramID != programID {
		t.Errorf("program_id = %s, want %s", info.ProgramID, programID)
	}
	if info.RecordLen != 3241 {
		t.Errorf("record_len = %d, want 3241", info.RecordLen)
	}
}

func TestAllocate_201_then409(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	want, _ := env.svc.SlotAddress(env.admin)
	if slot != want {
		t.Errorf("slot = %s, want derived %s", slot, want)
	}

	w := env.do(t, http.MethodPost, "/api/v1/slots", env.allocateRequest(t, env.priv, env.admin))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestAllocate_401_missingProof(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodPost, "/api/v1/slots", model.AllocateRequest{Base: env.admin})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAllocate_otherKeyCannotTakeDerivedSlot(t *testing.T) {
	env := setupRouter(t)
	_, attacker, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	// The attacker signs an allocate proof for the admin's slot with its own key.
	req := env.allocateRequest(t, attacker, env.admin)
	req.Balance = 1
	w := env.do(t, http.MethodPost, "/api/v1/slots", req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	// The admin can still allocate and initialise.
	slot := env.allocate(t)
	if w := env.invoke(t, slot, instruction.Init{}, true); w.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAllocate_400_balanceBelowMinimum(t *testing.T) {
	env := setupRouter(t)
	req := env.allocateRequest(t, env.priv, env.admin)
	req.Balance = 1
	w := env.do(t, http.MethodPost, "/api/v1/slots", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAllocate_400_foreignOwner(t *testing.T) {
	env := setupRouter(t)
	other := key.Key32{0x99}
	req := env.allocateRequest(t, env.priv, env.admin)
	req.Owner = &other
	w := env.do(t, http.MethodPost, "/api/v1/slots", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAllocate_401_proofUsedTwice(t *testing.T) {
	env := setupRouter(t)
	req := env.allocateRequest(t, env.priv, env.admin)
	if w := env.do(t, http.MethodPost, "/api/v1/slots", req); w.Code != http.StatusCreated {
		t.Fatalf("first allocate: expected 201, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/slots", req); w.Code != http.StatusUnauthorized {
		t.Fatalf("second allocate: expected 401, got %d", w.Code)
	}
}

func TestAllocate_400_missingBase(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodPost, "/api/v1/slots", map[string]any{"balance": 10})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetSlot_404(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/v1/slots/"+key.Key32{0x01}.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetSlot_400_badKey(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/v1/slots/not-a-key!", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListSlots_200(t *testing.T) {
	env := setupRouter(t)
	env.allocate(t)

	w := env.do(t, http.MethodGet, "/api/v1/slots?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

// ── Invoke ──────────────────────────────────────────────────────────────

func TestInvoke_initAndAdvance(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	chain, err := hashlink.GenerateChain(hashlink.Blake2b(), 2, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	w := env.invoke(t, slot, instruction.Init{InitialCommitment: chain.Genesis()}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	link, _ := chain.Step(1)
	w = env.invoke(t, slot, instruction.Advance{Next: link.Next, Secret: link.Secret}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Instruction string           `json:"instruction"`
		Record      model.RecordView `json:"record"`
		Journal     *journal.Entry   `json:"journal"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Instruction != "Advance" {
		t.Errorf("instruction = %q, want Advance", resp.Instruction)
	}
	if resp.Record.Pointer != 2 {
		t.Errorf("pointer = %d, want 2", resp.Record.Pointer)
	}
	if resp.Record.Commitment != link.Next {
		t.Errorf("commitment = %s, want %s", resp.Record.Commitment, link.Next)
	}
	if resp.Journal == nil || resp.Journal.Index != 2 {
		t.Errorf("expected journal entry 2, got %+v", resp.Journal)
	}
}

func TestInvoke_422_missingSignature(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	perr := decodeProgramError(t, env.invoke(t, slot, instruction.Init{}, false))
	if perr.Name != "MissingRequiredSignature" || perr.Code != 4 || perr.Custom {
		t.Errorf("unexpected error body: %+v", perr)
	}
}

func TestInvoke_422_wrongSecret(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	if w := env.invoke(t, slot, instruction.Init{InitialCommitment: key.Key32{0x11}}, true); w.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d", w.Code)
	}
	perr := decodeProgramError(t, env.invoke(t, slot, instruction.Advance{Next: key.Key32{1}, Secret: key.Key32{2}}, false))
	if perr.Name != "IncorrectSecretOrHash" || perr.Code != 2 || !perr.Custom {
		t.Errorf("unexpected error body: %+v", perr)
	}
}

func TestInvoke_422_invalidInstruction(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	w := env.do(t, http.MethodPost, "/api/v1/slots/"+slot.String()+"/invoke",
		model.InvokeRequest{Caller: env.admin, Instruction: []byte{7, 7}})
	perr := decodeProgramError(t, w)
	if perr.Name != "InvalidInstruction" || perr.Code != 0 || !perr.Custom {
		t.Errorf("unexpected error body: %+v", perr)
	}
}

func TestInvoke_400_badProof(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	w := env.do(t, http.MethodPost, "/api/v1/slots/"+slot.String()+"/invoke", model.InvokeRequest{
		Caller:      env.admin,
		Instruction: instruction.Pack(instruction.BumpPointer{}),
		Proofs:      []string{"not.a.jwt"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestInvoke_400_proofForOtherInstruction(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)

	scope := identity.Scope{Action: identity.ActionInvoke, Slot: slot, Data: instruction.Pack(instruction.Init{})}
	proof, err := identity.IssueProof(env.priv, scope, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodPost, "/api/v1/slots/"+slot.String()+"/invoke", model.InvokeRequest{
		Caller:      env.admin,
		Instruction: instruction.Pack(instruction.BumpPointer{}),
		Proofs:      []string{proof},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestInvoke_400_proofForOtherSlot(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)
	env.invoke(t, slot, instruction.Init{}, true)

	req := env.invokeRequest(t, key.Key32{0x77}, instruction.BumpPointer{}, true)
	w := env.do(t, http.MethodPost, "/api/v1/slots/"+slot.String()+"/invoke", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvoke_signedBumpCannotBeResubmitted(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)
	if w := env.invoke(t, slot, instruction.Init{}, true); w.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d", w.Code)
	}

	req := env.invokeRequest(t, slot, instruction.BumpPointer{}, true)
	path := "/api/v1/slots/" + slot.String() + "/invoke"
	if w := env.do(t, http.MethodPost, path, req); w.Code != http.StatusOK {
		t.Fatalf("bump: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	for i := 0; i < 5; i++ {
		if w := env.do(t, http.MethodPost, path, req); w.Code != http.StatusBadRequest {
			t.Fatalf("resubmission %d: expected 400, got %d: %s", i, w.Code, w.Body.String())
		}
	}
	if got := env.pointer(t, slot); got != 2 {
		t.Errorf("pointer = %d, want 2", got)
	}
}

func TestInvoke_422_proofForEarlierPointer(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)
	if w := env.invoke(t, slot, instruction.Init{}, true); w.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d", w.Code)
	}

	// Two bump proofs signed while the pointer is 1; only the first lands.
	first := env.invokeRequest(t, slot, instruction.BumpPointer{}, true)
	second := env.invokeRequest(t, slot, instruction.BumpPointer{}, true)
	path := "/api/v1/slots/" + slot.String() + "/invoke"
	if w := env.do(t, http.MethodPost, path, first); w.Code != http.StatusOK {
		t.Fatalf("bump: expected 200, got %d", w.Code)
	}
	perr := decodeProgramError(t, env.do(t, http.MethodPost, path, second))
	if perr.Name != "MissingRequiredSignature" {
		t.Errorf("unexpected error body: %+v", perr)
	}
	if got := env.pointer(t, slot); got != 2 {
		t.Errorf("pointer = %d, want 2", got)
	}
}

func TestInvoke_404_unknownSlot(t *testing.T) {
	env := setupRouter(t)
	w := env.invoke(t, key.Key32{0x42}, instruction.BumpPointer{}, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// ── Journal / metrics ───────────────────────────────────────────────────

func TestJournal_tracksInvocations(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)
	env.invoke(t, slot, instruction.Init{}, true)
	env.invoke(t, slot, instruction.RegisterCallback{Address: key.Key32{0xcb}}, false)

	w := env.do(t, http.MethodGet, "/api/v1/journal", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var overview map[string]any
	json.Unmarshal(w.Body.Bytes(), &overview)
	if entries := int(overview["entries"].(float64)); entries != 3 {
		t.Errorf("entries = %d, want 3", entries)
	}

	w = env.do(t, http.MethodGet, "/api/v1/journal/verify", nil)
	var verify map[string]any
	json.Unmarshal(w.Body.Bytes(), &verify)
	if verify["valid"] != true {
		t.Errorf("expected valid=true, got %v", verify)
	}

	w = env.do(t, http.MethodGet, "/api/v1/journal/entries/2", nil)
	var entry journal.Entry
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry.Instruction != "RegisterCallback" || entry.CallbackCount != 1 {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestJournalGetEntry_404(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/v1/journal/entries/999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestJournalGetEntry_400_invalidIdx(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/v1/journal/entries/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMetrics_exposesInstructionCounter(t *testing.T) {
	env := setupRouter(t)
	slot := env.allocate(t)
	env.invoke(t, slot, instruction.Init{}, true)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`oracle_instructions_total{instruction="Init",result="ok"}`)) {
		t.Error("expected oracle_instructions_total for Init in metrics output")
	}
}

func TestRateLimiter_429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 1))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}
