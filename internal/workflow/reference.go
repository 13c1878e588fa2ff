package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"loanflow/internal/domain"
	"loanflow/internal/tasks"
	"loanflow/pkg/email"
	"loanflow/pkg/requestcontext"
)

// NormalizingPreprocessor cleans up contact fields before enrichment.
type NormalizingPreprocessor struct{}

// Preprocess trims free-text fields, lowercases the email, reduces the phone
// to digits with a leading '+', and uppercases the citizenship code.
func (NormalizingPreprocessor) Preprocess(_ context.Context, app *domain.Application) error {
	app.Email = email.Normalize(app.Email)
	app.Phone = normalizePhone(app.Phone)
	app.FullName = strings.Join(strings.Fields(app.FullName), " ")
	app.Address = strings.TrimSpace(app.Address)
	app.Citizenship = strings.ToUpper(strings.TrimSpace(app.Citizenship))
	return nil
}

func normalizePhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Check is one enrichment source. It reports whether the application passed
// and a short label for the audit trail.
type Check struct {
	Name string
	Run  func(ctx context.Context, app *domain.Application) (bool, error)
}

// enrichTimeout bounds one enrichment round across all checks.
const enrichTimeout = 10 * time.Second

// RuleEnricher runs its checks concurrently and reports verified only when all pass.
type RuleEnricher struct {
	checks []Check
}

// NewRuleEnricher creates an enricher. Without checks it uses DefaultChecks.
func NewRuleEnricher(checks ...Check) *RuleEnricher {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	return &RuleEnricher{checks: checks}
}

// DefaultChecks requires an adult applicant with citizenship and address on file.
func DefaultChecks() []Check {
	return []Check{
		{Name: "age_over_18", Run: func(ctx context.Context, app *domain.Application) (bool, error) {
			return app.AgeAt(requestcontext.Now(ctx)) >= 18, nil
		}},
		{Name: "citizenship_present", Run: func(_ context.Context, app *domain.Application) (bool, error) {
			return strings.TrimSpace(app.Citizenship) != "", nil
		}},
		{Name: "address_present", Run: func(_ context.Context, app *domain.Application) (bool, error) {
			return strings.TrimSpace(app.Address) != "", nil
		}},
	}
}

// Enrich runs every check. A check error aborts the round so the stage retries.
func (e *RuleEnricher) Enrich(ctx context.Context, app *domain.Application) (*Enrichment, error) {
	ctx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	results := make(map[string]any, len(e.checks))
	for _, check := range e.checks {
		g.Go(func() error {
			passed, err := check.Run(ctx, app)
			if err != nil {
				return fmt.Errorf("check %s: %w", check.Name, err)
			}
			mu.Lock()
			results[check.Name] = passed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed []string
	for _, check := range e.checks {
		if passed, _ := results[check.Name].(bool); !passed {
			failed = append(failed, check.Name)
		}
	}
	if len(failed) > 0 {
		return &Enrichment{
			Verified: false,
			Reason:   "failed checks: " + strings.Join(failed, ", "),
			Data:     results,
		}, nil
	}
	return &Enrichment{Verified: true, Reason: reasonEnriched, Data: results}, nil
}

// Score bounds for AffordabilityScorer.
var (
	minScore = decimal.NewFromFloat(0.05)
	maxScore = decimal.NewFromFloat(0.95)
)

// ErrNoRequestedAmount is returned when an application asks for nothing.
var ErrNoRequestedAmount = errors.New("requested amount must be positive")

// AffordabilityScorer scores annual income against the requested amount.
// An applicant whose yearly income covers the loan CoverageTarget times
// scores at the cap.
type AffordabilityScorer struct {
	CoverageTarget decimal.Decimal
}

// NewAffordabilityScorer creates a scorer with a coverage target of 2.
func NewAffordabilityScorer() *AffordabilityScorer {
	return &AffordabilityScorer{CoverageTarget: decimal.NewFromInt(2)}
}

// Score returns annual income / (requested * target), clamped to [0.05, 0.95].
func (s *AffordabilityScorer) Score(_ context.Context, app *domain.Application) (float64, error) {
	if !app.RequestedAmount.IsPositive() {
		return 0, tasks.Permanent(ErrNoRequestedAmount)
	}
	target := s.CoverageTarget
	if !target.IsPositive() {
		target = decimal.NewFromInt(1)
	}
	annual := app.MonthlyIncome.Mul(decimal.NewFromInt(12))
	ratio := annual.Div(app.RequestedAmount.Mul(target))
	switch {
	case ratio.LessThan(minScore):
		ratio = minScore
	case ratio.GreaterThan(maxScore):
		ratio = maxScore
	}
	return ratio.Round(4).InexactFloat64(), nil
}
