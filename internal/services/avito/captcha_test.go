package avito

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func testCaptchaFlow(solver interfaces.CaptchaSolver) *CaptchaFlow {
	logger := arbor.NewLogger()
	return &CaptchaFlow{
		detector:      NewDetector(logger),
		solver:        solver,
		logger:        logger,
		attempts:      2,
		continueWait:  time.Millisecond,
		rateLimitWait: time.Millisecond,
		captchaWait:   time.Millisecond,
	}
}

// clickClearPage clears its challenge document when the continue
// button is clicked.
type clickClearPage struct {
	*fakePage
	clearTo string
}

func (p *clickClearPage) Click(ctx context.Context, selector string) error {
	_ = p.fakePage.Click(ctx, selector)
	p.setDocument(p.clearTo, 200)
	return nil
}

func TestCaptchaFlow_ContinueButtonClears(t *testing.T) {
	page := &clickClearPage{
		fakePage: newStaticPage(continuePageHTML, 200),
		clearTo: catalogPageHTML(
			catalogItemHTML("1001", "Катализатор KNK-2190", "12500", "Новый"),
		),
	}

	flow := testCaptchaFlow(nil)
	state, cleared, err := flow.Resolve(context.Background(), page, models.PageStateContinueRequired)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !cleared {
		t.Fatalf("Expected challenge cleared, final state %s", state)
	}
	if state != models.PageStateCatalog {
		t.Errorf("Expected catalog after clearing, got %s", state)
	}
	if len(page.clicks) != 1 || page.clicks[0] != ContinueButtonSelector {
		t.Errorf("Expected one continue click, got %v", page.clicks)
	}
}

func TestCaptchaFlow_RateLimitClearsOnReload(t *testing.T) {
	page := newStaticPage(rateLimitPageHTML, 200)
	page.steps = []pageStep{{html: catalogPageHTML(
		catalogItemHTML("1001", "Катализатор KNK-2190", "12500", "Новый"),
	), status: 200}}

	flow := testCaptchaFlow(nil)
	state, cleared, err := flow.Resolve(context.Background(), page, models.PageStateRateLimited)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !cleared || state != models.PageStateCatalog {
		t.Errorf("Expected catalog after reload, got (%s, %v)", state, cleared)
	}
	if page.reloadCount() != 1 {
		t.Errorf("Expected one reload, got %d", page.reloadCount())
	}
}

func TestCaptchaFlow_GivesUpAfterBudget(t *testing.T) {
	page := newStaticPage(captchaPageHTML, 200)

	flow := testCaptchaFlow(nil)
	state, cleared, err := flow.Resolve(context.Background(), page, models.PageStateCaptcha)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cleared {
		t.Errorf("Expected unsolved challenge")
	}
	if state != models.PageStateCaptcha {
		t.Errorf("Expected captcha state retained, got %s", state)
	}
}

func TestCaptchaFlow_SolverErrorDoesNotAbort(t *testing.T) {
	page := newStaticPage(captchaPageHTML, 200)
	solver := &stubSolver{fn: func(_ context.Context, _ interfaces.Page) (bool, error) {
		return false, errors.New("upstream solver down")
	}}

	flow := testCaptchaFlow(solver)
	_, cleared, err := flow.Resolve(context.Background(), page, models.PageStateCaptcha)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cleared {
		t.Errorf("Expected unsolved challenge")
	}
	if solver.callCount() != 2 {
		t.Errorf("Expected solver tried each attempt, got %d calls", solver.callCount())
	}
}

func TestCaptchaFlow_ContextCancelled(t *testing.T) {
	page := newStaticPage(captchaPageHTML, 200)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flow := testCaptchaFlow(nil)
	flow.captchaWait = time.Second

	_, _, err := flow.Resolve(ctx, page, models.PageStateCaptcha)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
