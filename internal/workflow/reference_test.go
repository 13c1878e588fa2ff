package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/internal/domain"
	"loanflow/internal/tasks"
	"loanflow/pkg/testutil"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.ApplicationStatus
	}{
		{0.95, domain.StatusApproved},
		{0.75, domain.StatusApproved},
		{0.70, domain.StatusManualReview},
		{0.50, domain.StatusManualReview},
		{0.30, domain.StatusManualReview},
		{0.25, domain.StatusRejected},
		{0.05, domain.StatusRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.score, DefaultThresholds).Status, "score %v", tt.score)
	}
}

func TestNormalizingPreprocessor(t *testing.T) {
	app := &domain.Application{
		Email:       " Ana.Lee@Example.COM",
		Phone:       "+1 (555) 010-0",
		FullName:    "  Ana   Lee ",
		Address:     "\t1 Main St\n",
		Citizenship: " ca ",
	}
	require.NoError(t, NormalizingPreprocessor{}.Preprocess(context.Background(), app))

	assert.Equal(t, "ana.lee@example.com", app.Email)
	assert.Equal(t, "+15550100", app.Phone)
	assert.Equal(t, "Ana Lee", app.FullName)
	assert.Equal(t, "1 Main St", app.Address)
	assert.Equal(t, "CA", app.Citizenship)
}

func TestNormalizePhoneWithoutDigits(t *testing.T) {
	assert.Equal(t, "", normalizePhone("n/a"))
}

func TestRuleEnricher(t *testing.T) {
	ctx := testutil.ContextAt(testutil.FixedNow)
	adult := &domain.Application{
		DateOfBirth: testutil.FixedNow.AddDate(-30, 0, 0),
		Citizenship: "US",
		Address:     "1 Main St",
	}

	t.Run("all checks pass", func(t *testing.T) {
		res, err := NewRuleEnricher().Enrich(ctx, adult)
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.Equal(t, true, res.Data["age_over_18"])
	})

	t.Run("minor fails", func(t *testing.T) {
		minor := adult.Clone()
		minor.DateOfBirth = testutil.FixedNow.AddDate(-17, 0, 0)
		res, err := NewRuleEnricher().Enrich(ctx, minor)
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Reason, "age_over_18")
	})

	t.Run("missing address fails", func(t *testing.T) {
		noAddress := adult.Clone()
		noAddress.Address = " "
		res, err := NewRuleEnricher().Enrich(ctx, noAddress)
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.Equal(t, false, res.Data["address_present"])
	})

	t.Run("check error aborts", func(t *testing.T) {
		failing := Check{Name: "registry", Run: func(context.Context, *domain.Application) (bool, error) {
			return false, errors.New("timeout")
		}}
		_, err := NewRuleEnricher(failing).Enrich(ctx, adult)
		assert.ErrorContains(t, err, "check registry")
	})

	t.Run("checks share a deadline", func(t *testing.T) {
		slow := Check{Name: "slow", Run: func(ctx context.Context, _ *domain.Application) (bool, error) {
			deadline, ok := ctx.Deadline()
			return ok && time.Until(deadline) <= enrichTimeout, nil
		}}
		res, err := NewRuleEnricher(slow).Enrich(ctx, adult)
		require.NoError(t, err)
		assert.True(t, res.Verified)
	})
}

func TestAffordabilityScorer(t *testing.T) {
	scorer := NewAffordabilityScorer()
	score := func(income, requested int64) float64 {
		s, err := scorer.Score(context.Background(), &domain.Application{
			MonthlyIncome:   decimal.NewFromInt(income),
			RequestedAmount: decimal.NewFromInt(requested),
		})
		require.NoError(t, err)
		return s
	}

	assert.InDelta(t, 0.95, score(4000, 10000), 1e-9)
	assert.InDelta(t, 0.48, score(4000, 50000), 1e-9)
	assert.InDelta(t, 0.24, score(4000, 100000), 1e-9)
	assert.InDelta(t, 0.05, score(100, 1000000), 1e-9)

	_, err := scorer.Score(context.Background(), &domain.Application{MonthlyIncome: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNoRequestedAmount)
	assert.True(t, tasks.IsPermanent(err))
}
