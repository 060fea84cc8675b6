package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/llm"
)

type validatedNote struct {
	id          int64
	materialize bool
}

type stubArticulums struct {
	interfaces.ArticulumStorage
	mu         sync.Mutex
	queue      []*models.Articulum
	claims     int
	validated  []validatedNote
	rejected   []int64
	rolledBack []int64
}

func (s *stubArticulums) ClaimForValidation(_ context.Context) (*models.Articulum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if len(s.queue) == 0 {
		return nil, nil
	}
	articulum := s.queue[0]
	s.queue = s.queue[1:]
	articulum.State = models.ArticulumStateValidating
	return articulum, nil
}

func (s *stubArticulums) MarkValidated(_ context.Context, id int64, materialize bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated = append(s.validated, validatedNote{id: id, materialize: materialize})
	return 5, nil
}

func (s *stubArticulums) Reject(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, id)
	return true, nil
}

func (s *stubArticulums) RollbackToCatalogParsed(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolledBack = append(s.rolledBack, id)
	return true, nil
}

func (s *stubArticulums) rejectedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.rejected...)
}

func (s *stubArticulums) rolledBackIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.rolledBack...)
}

func (s *stubArticulums) validatedNotes() []validatedNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validatedNote(nil), s.validated...)
}

type stubListings struct {
	interfaces.ListingStorage
	mu          sync.Mutex
	byArticulum map[int64][]models.CatalogListing
	loadErr     error
	saved       []models.ValidationResult
}

func (s *stubListings) GetByArticulum(_ context.Context, articulumID int64) ([]models.CatalogListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.byArticulum[articulumID], nil
}

func (s *stubListings) SaveValidationResults(_ context.Context, results []models.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, results...)
	return nil
}

// rows filters the saved audit rows by stage.
func (s *stubListings) rows(stage models.ValidationStage) []models.ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ValidationResult
	for _, r := range s.saved {
		if r.ValidationType == stage {
			out = append(out, r)
		}
	}
	return out
}

func (s *stubListings) row(stage models.ValidationStage, itemID string) (models.ValidationResult, bool) {
	for _, r := range s.rows(stage) {
		if r.AvitoItemID == itemID {
			return r, true
		}
	}
	return models.ValidationResult{}, false
}

type stubStorage struct {
	articuli *stubArticulums
	listings *stubListings
}

var _ interfaces.StorageManager = (*stubStorage)(nil)

func (s *stubStorage) ArticulumStorage() interfaces.ArticulumStorage     { return s.articuli }
func (s *stubStorage) CatalogTaskStorage() interfaces.CatalogTaskStorage { return nil }
func (s *stubStorage) ObjectTaskStorage() interfaces.ObjectTaskStorage   { return nil }
func (s *stubStorage) ProxyStorage() interfaces.ProxyStorage             { return nil }
func (s *stubStorage) ListingStorage() interfaces.ListingStorage         { return s.listings }
func (s *stubStorage) ObjectDataStorage() interfaces.ObjectDataStorage   { return nil }
func (s *stubStorage) RecoveryStorage() interfaces.RecoveryStorage       { return nil }
func (s *stubStorage) Ping(context.Context) error                        { return nil }
func (s *stubStorage) Close() error                                      { return nil }

type aiCall struct {
	articulum string
	listings  []models.AIListing
	useImages bool
}

// scriptedValidator pops one response per call; an exhausted script
// passes everything.
type scriptedValidator struct {
	mu     sync.Mutex
	script []func(listings []models.AIListing) (*models.AIVerdict, error)
	calls  []aiCall
}

var _ interfaces.AIValidator = (*scriptedValidator)(nil)

func (v *scriptedValidator) Validate(_ context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	v.mu.Lock()
	v.calls = append(v.calls, aiCall{articulum: articulum, listings: listings, useImages: useImages})
	var next func(listings []models.AIListing) (*models.AIVerdict, error)
	if len(v.script) > 0 {
		next = v.script[0]
		v.script = v.script[1:]
	}
	v.mu.Unlock()

	if next == nil {
		return passAll(listings), nil
	}
	return next(listings)
}

func (v *scriptedValidator) Name() string { return "scripted" }

func (v *scriptedValidator) callLog() []aiCall {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]aiCall(nil), v.calls...)
}

func passAll(listings []models.AIListing) *models.AIVerdict {
	verdict := &models.AIVerdict{}
	for _, l := range listings {
		verdict.PassedIDs = append(verdict.PassedIDs, l.AvitoItemID)
	}
	return verdict
}

func providerFailure(_ []models.AIListing) (*models.AIVerdict, error) {
	return nil, &llm.ProviderError{Provider: "scripted", Err: errors.New("upstream unreachable")}
}

type fakeImages struct {
	mu      sync.Mutex
	enabled bool
	objects map[string][]byte
	fetched []string
}

var _ interfaces.ImageStore = (*fakeImages)(nil)

func (f *fakeImages) Store(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return key, nil
}

func (f *fakeImages) Fetch(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, key)
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (f *fakeImages) Enabled() bool { return f.enabled }

func (f *fakeImages) fetchLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func testValidationConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Validation.MinValidatedItems = 3
	cfg.Validation.MinPrice = 1000
	cfg.Validation.IdleDelay = "1ms"
	cfg.Validation.ErrorDelay = "1ms"
	return cfg
}

type valHarness struct {
	worker   *Worker
	articuli *stubArticulums
	listings *stubListings
}

func newValHarness(cfg *common.Config, validator interfaces.AIValidator, images interfaces.ImageStore) *valHarness {
	articuli := &stubArticulums{}
	listings := &stubListings{byArticulum: make(map[int64][]models.CatalogListing)}
	storage := &stubStorage{articuli: articuli, listings: listings}
	return &valHarness{
		worker:   NewWorker("worker-V1", cfg, storage, validator, images, arbor.NewLogger()),
		articuli: articuli,
		listings: listings,
	}
}

func (h *valHarness) addArticulum(id int64, name string, listings ...models.CatalogListing) {
	h.articuli.queue = append(h.articuli.queue, &models.Articulum{
		ID:        id,
		Articulum: name,
		State:     models.ArticulumStateCatalogParsed,
	})
	h.listings.byArticulum[id] = listings
}

func priced(itemID string, price float64) models.CatalogListing {
	return models.CatalogListing{
		AvitoItemID: itemID,
		Title:       "Катализатор KHK-2190 оригинал",
		Price:       &price,
		SnippetText: "Новая деталь, оригинал",
		SellerName:  "АвтоМаркет",
	}
}

func TestPipelineValidatesAndMaterializes(t *testing.T) {
	h := newValHarness(testValidationConfig(), nil, nil)
	h.addArticulum(1, "KHK-2190", priced("9001", 9500), priced("9002", 10500), priced("9003", 11000))

	claimed, err := h.worker.processNext(context.Background())
	if err != nil || !claimed {
		t.Fatalf("processNext = %v, %v", claimed, err)
	}

	notes := h.articuli.validatedNotes()
	if len(notes) != 1 || notes[0].id != 1 || !notes[0].materialize {
		t.Fatalf("validated = %+v, want id 1 with materialization", notes)
	}
	if got := h.articuli.rejectedIDs(); len(got) != 0 {
		t.Fatalf("rejected = %v, want none", got)
	}
	if rows := h.listings.rows(models.ValidationStagePriceFilter); len(rows) != 3 {
		t.Fatalf("price filter rows = %d, want 3", len(rows))
	}
	if rows := h.listings.rows(models.ValidationStageMechanical); len(rows) != 3 {
		t.Fatalf("mechanical rows = %d, want 3", len(rows))
	}
	if rows := h.listings.rows(models.ValidationStageAI); len(rows) != 0 {
		t.Fatalf("ai rows = %d, want 0 with AI off", len(rows))
	}
}

func TestPipelineSkipsMaterializationInReparseMode(t *testing.T) {
	cfg := testValidationConfig()
	cfg.Reparse.SkipObjectParsing = true
	h := newValHarness(cfg, nil, nil)
	h.addArticulum(1, "KHK-2190", priced("9001", 9500), priced("9002", 10500), priced("9003", 11000))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	notes := h.articuli.validatedNotes()
	if len(notes) != 1 || notes[0].materialize {
		t.Fatalf("validated = %+v, want no materialization", notes)
	}
}

func TestPipelineRejectsBelowMinCount(t *testing.T) {
	h := newValHarness(testValidationConfig(), nil, nil)
	h.addArticulum(7, "KHK-2190", priced("9001", 9500), priced("9002", 10500))

	claimed, err := h.worker.processNext(context.Background())
	if err != nil || !claimed {
		t.Fatalf("processNext = %v, %v", claimed, err)
	}

	if got := h.articuli.rejectedIDs(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("rejected = %v, want [7]", got)
	}
	if len(h.listings.saved) != 0 {
		t.Fatalf("audit rows = %d, want none before gate 0", len(h.listings.saved))
	}
	if got := h.articuli.validatedNotes(); len(got) != 0 {
		t.Fatalf("validated = %+v, want none", got)
	}
}

func TestPriceFilterRejectsAndAudits(t *testing.T) {
	h := newValHarness(testValidationConfig(), nil, nil)
	h.addArticulum(3, "KHK-2190", priced("9001", 500), priced("9002", 700), priced("9003", 9500))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	if got := h.articuli.rejectedIDs(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("rejected = %v, want [3]", got)
	}
	rows := h.listings.rows(models.ValidationStagePriceFilter)
	if len(rows) != 3 {
		t.Fatalf("price filter rows = %d, want 3", len(rows))
	}
	cheap, ok := h.listings.row(models.ValidationStagePriceFilter, "9001")
	if !ok || cheap.Passed || !strings.Contains(cheap.RejectionReason, "min_price") {
		t.Fatalf("row for 9001 = %+v, want min_price rejection", cheap)
	}
	if rows := h.listings.rows(models.ValidationStageMechanical); len(rows) != 0 {
		t.Fatalf("mechanical rows = %d, want 0 after price reject", len(rows))
	}
}

func TestPriceFilterPassesMissingPrice(t *testing.T) {
	h := newValHarness(testValidationConfig(), nil, nil)
	unpriced := priced("9002", 0)
	unpriced.Price = nil
	h.addArticulum(4, "KHK-2190", priced("9001", 9500), unpriced, priced("9003", 10500))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	row, ok := h.listings.row(models.ValidationStagePriceFilter, "9002")
	if !ok || !row.Passed {
		t.Fatalf("row for unpriced listing = %+v, want pass", row)
	}
	if got := h.articuli.validatedNotes(); len(got) != 1 {
		t.Fatalf("validated = %+v, want the articulum to pass", got)
	}
}

func TestMechanicalStopwordRejects(t *testing.T) {
	cfg := testValidationConfig()
	cfg.Validation.MinValidatedItems = 2
	h := newValHarness(cfg, nil, nil)

	fake := priced("9002", 10000)
	fake.Title = "Копия катализатора KHK-2190"
	h.addArticulum(5, "KHK-2190", priced("9001", 9500), fake, priced("9003", 10500))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	row, ok := h.listings.row(models.ValidationStageMechanical, "9002")
	if !ok || row.Passed || !strings.Contains(row.RejectionReason, "стоп-слово") {
		t.Fatalf("row for 9002 = %+v, want stopword rejection", row)
	}
	if got := h.articuli.validatedNotes(); len(got) != 1 {
		t.Fatalf("validated = %+v, want pass with two survivors", got)
	}
}

func TestMechanicalSellerReviewsFloor(t *testing.T) {
	cfg := testValidationConfig()
	cfg.Validation.MinValidatedItems = 1
	cfg.Validation.MinSellerReviews = 10
	h := newValHarness(cfg, nil, nil)

	trusted := priced("9001", 9500)
	trusted.SellerReviews = ptrInt(25)
	unknown := priced("9002", 10000)
	sparse := priced("9003", 10500)
	sparse.SellerReviews = ptrInt(3)
	h.addArticulum(6, "KHK-2190", trusted, unknown, sparse)

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	row, _ := h.listings.row(models.ValidationStageMechanical, "9002")
	if row.Passed || !strings.Contains(row.RejectionReason, "N/A < 10") {
		t.Fatalf("row for 9002 = %+v, want unknown-reviews rejection", row)
	}
	row, _ = h.listings.row(models.ValidationStageMechanical, "9003")
	if row.Passed || !strings.Contains(row.RejectionReason, "3 < 10") {
		t.Fatalf("row for 9003 = %+v, want low-reviews rejection", row)
	}
	row, _ = h.listings.row(models.ValidationStageMechanical, "9001")
	if !row.Passed {
		t.Fatalf("row for 9001 = %+v, want pass", row)
	}
}

func TestMechanicalPriceOutlierRejects(t *testing.T) {
	cfg := testValidationConfig()
	cfg.Validation.MinValidatedItems = 2
	h := newValHarness(cfg, nil, nil)

	h.addArticulum(8, "KHK-2190",
		priced("9001", 10000),
		priced("9002", 11000),
		priced("9003", 12000),
		priced("9004", 13000),
		priced("9005", 2000),
	)

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	row, ok := h.listings.row(models.ValidationStageMechanical, "9005")
	if !ok || row.Passed || !strings.Contains(row.RejectionReason, "Подозрительно низкая цена") {
		t.Fatalf("row for 9005 = %+v, want cheap-outlier rejection", row)
	}
	if got := h.articuli.validatedNotes(); len(got) != 1 {
		t.Fatalf("validated = %+v, want pass with four survivors", got)
	}
}

func TestMechanicalRequiresArticulumInText(t *testing.T) {
	cfg := testValidationConfig()
	cfg.Validation.MinValidatedItems = 1
	cfg.Validation.RequireArticulumInText = true
	h := newValHarness(cfg, nil, nil)

	cyrillic := priced("9001", 9500)
	cyrillic.Title = "Катализатор КНК-2190 оригинал" // lookalike Cyrillic letters
	unrelated := priced("9002", 10000)
	unrelated.Title = "Глушитель без номера"
	unrelated.SnippetText = "Прямоток"
	h.addArticulum(9, "KHK-2190", cyrillic, unrelated, priced("9003", 10500))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	row, _ := h.listings.row(models.ValidationStageMechanical, "9001")
	if !row.Passed {
		t.Fatalf("row for 9001 = %+v, want lookalike match to pass", row)
	}
	row, _ = h.listings.row(models.ValidationStageMechanical, "9002")
	if row.Passed || !strings.Contains(row.RejectionReason, "Артикул") {
		t.Fatalf("row for 9002 = %+v, want missing-articulum rejection", row)
	}
}

func aiConfig() *common.Config {
	cfg := testValidationConfig()
	cfg.Validation.MinValidatedItems = 2
	cfg.AI.Enabled = true
	cfg.AI.UseImages = false
	return cfg
}

func TestAIVerdictAudited(t *testing.T) {
	validator := &scriptedValidator{script: []func([]models.AIListing) (*models.AIVerdict, error){
		func([]models.AIListing) (*models.AIVerdict, error) {
			return &models.AIVerdict{
				PassedIDs: []string{"9001", "9002"},
				Rejected:  []models.AIRejection{{AvitoItemID: "9003", Reason: "не та деталь"}},
			}, nil
		},
	}}
	h := newValHarness(aiConfig(), validator, nil)
	h.addArticulum(10, "KHK-2190", priced("9001", 9500), priced("9002", 10500), priced("9003", 11000))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	calls := validator.callLog()
	if len(calls) != 1 || calls[0].articulum != "KHK-2190" || len(calls[0].listings) != 3 {
		t.Fatalf("validator calls = %+v, want one call with 3 listings", calls)
	}
	if calls[0].useImages {
		t.Fatal("useImages = true without an image store")
	}

	row, _ := h.listings.row(models.ValidationStageAI, "9003")
	if row.Passed || row.RejectionReason != "не та деталь" {
		t.Fatalf("row for 9003 = %+v, want model's rejection reason", row)
	}
	if got := h.articuli.validatedNotes(); len(got) != 1 {
		t.Fatalf("validated = %+v, want pass with two survivors", got)
	}
}

func TestAIMissingVerdictEntryGetsGenericReason(t *testing.T) {
	cfg := aiConfig()
	cfg.Validation.MinValidatedItems = 1
	validator := &scriptedValidator{script: []func([]models.AIListing) (*models.AIVerdict, error){
		func([]models.AIListing) (*models.AIVerdict, error) {
			return &models.AIVerdict{PassedIDs: []string{"9001"}}, nil
		},
	}}
	h := newValHarness(cfg, validator, nil)
	h.addArticulum(11, "KHK-2190", priced("9001", 9500), priced("9002", 10500))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	row, ok := h.listings.row(models.ValidationStageAI, "9002")
	if !ok || row.Passed || row.RejectionReason != "ИИ не посчитал релевантным" {
		t.Fatalf("row for 9002 = %+v, want generic rejection", row)
	}
}

func TestAIBatchCapOverflowRecordedAsPassed(t *testing.T) {
	cfg := aiConfig()
	cfg.AI.MaxListings = 2
	validator := &scriptedValidator{}
	h := newValHarness(cfg, validator, nil)
	h.addArticulum(12, "KHK-2190",
		priced("9001", 9500), priced("9002", 10500), priced("9003", 11000), priced("9004", 11500))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	calls := validator.callLog()
	if len(calls) != 1 || len(calls[0].listings) != 2 {
		t.Fatalf("validator calls = %+v, want one call with the capped batch", calls)
	}

	rows := h.listings.rows(models.ValidationStageAI)
	if len(rows) != 4 {
		t.Fatalf("ai rows = %d, want one per listing", len(rows))
	}
	for _, itemID := range []string{"9003", "9004"} {
		row, ok := h.listings.row(models.ValidationStageAI, itemID)
		if !ok || !row.Passed {
			t.Fatalf("overflow row for %s = %+v, want passed", itemID, row)
		}
	}
}

func TestAIImagesAttachedFromStore(t *testing.T) {
	cfg := aiConfig()
	cfg.AI.UseImages = true
	images := &fakeImages{
		enabled: true,
		objects: map[string][]byte{
			"listings/9001/0.jpg": []byte("img-a"),
			"listings/9001/1.jpg": []byte("img-b"),
		},
	}
	validator := &scriptedValidator{}
	h := newValHarness(cfg, validator, images)

	rich := priced("9001", 9500)
	rich.ImageKeys = []string{"listings/9001/0.jpg", "listings/9001/1.jpg", "listings/9001/2.jpg"}
	broken := priced("9002", 10500)
	broken.ImageKeys = []string{"listings/9002/0.jpg"} // not in the store
	h.addArticulum(13, "KHK-2190", rich, broken, priced("9003", 11000))

	if _, err := h.worker.processNext(context.Background()); err != nil {
		t.Fatalf("processNext: %v", err)
	}

	calls := validator.callLog()
	if len(calls) != 1 || !calls[0].useImages {
		t.Fatalf("calls = %+v, want one call with images on", calls)
	}
	byID := make(map[string]models.AIListing)
	for _, l := range calls[0].listings {
		byID[l.AvitoItemID] = l
	}
	if got := len(byID["9001"].Images); got != 2 {
		t.Fatalf("9001 images = %d, want 2 (capped)", got)
	}
	if got := len(byID["9002"].Images); got != 0 {
		t.Fatalf("9002 images = %d, want 0 after failed fetch", got)
	}

	fetched := images.fetchLog()
	for _, key := range fetched {
		if key == "listings/9001/2.jpg" {
			t.Fatal("fetched a key beyond the per-listing cap")
		}
	}
}

func TestAIOutageRollsBackAndShutsDown(t *testing.T) {
	cfg := aiConfig()
	validator := &scriptedValidator{script: []func([]models.AIListing) (*models.AIVerdict, error){
		providerFailure, providerFailure, providerFailure,
	}}
	h := newValHarness(cfg, validator, nil)
	for i := int64(1); i <= 3; i++ {
		h.addArticulum(i, fmt.Sprintf("KHK-219%d", i), priced("9001", 9500), priced("9002", 10500))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.worker.Run(ctx)
	if !errors.Is(err, ErrAIShutdown) {
		t.Fatalf("Run = %v, want ErrAIShutdown", err)
	}
	if got := h.articuli.rolledBackIDs(); len(got) != 3 {
		t.Fatalf("rolled back = %v, want all three claims returned", got)
	}
	if got := h.articuli.validatedNotes(); len(got) != 0 {
		t.Fatalf("validated = %+v, want none during the outage", got)
	}
	if got := h.articuli.rejectedIDs(); len(got) != 0 {
		t.Fatalf("rejected = %v, want none during the outage", got)
	}
}

func TestAISuccessResetsOutageBudget(t *testing.T) {
	cfg := aiConfig()
	validator := &scriptedValidator{script: []func([]models.AIListing) (*models.AIVerdict, error){
		providerFailure,
		func(listings []models.AIListing) (*models.AIVerdict, error) { return passAll(listings), nil },
		providerFailure,
		providerFailure,
		providerFailure,
	}}
	h := newValHarness(cfg, validator, nil)
	for i := int64(1); i <= 5; i++ {
		h.addArticulum(i, fmt.Sprintf("KHK-219%d", i), priced("9001", 9500), priced("9002", 10500))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.worker.Run(ctx)
	if !errors.Is(err, ErrAIShutdown) {
		t.Fatalf("Run = %v, want ErrAIShutdown after the budget refills and drains", err)
	}

	notes := h.articuli.validatedNotes()
	if len(notes) != 1 || notes[0].id != 2 {
		t.Fatalf("validated = %+v, want only the articulum validated between outages", notes)
	}
	if got := h.articuli.rolledBackIDs(); len(got) != 4 {
		t.Fatalf("rolled back = %v, want the four failed claims returned", got)
	}
}

func TestStorageErrorRollsBackClaim(t *testing.T) {
	h := newValHarness(testValidationConfig(), nil, nil)
	h.addArticulum(20, "KHK-2190", priced("9001", 9500))
	h.listings.loadErr = errors.New("connection refused")

	claimed, err := h.worker.processNext(context.Background())
	if !claimed || err == nil {
		t.Fatalf("processNext = %v, %v, want claimed with error", claimed, err)
	}
	if errors.Is(err, ErrAIShutdown) {
		t.Fatal("storage error escalated to ErrAIShutdown")
	}
	if got := h.articuli.rolledBackIDs(); len(got) != 1 || got[0] != 20 {
		t.Fatalf("rolled back = %v, want [20]", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newValHarness(testValidationConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := h.worker.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
