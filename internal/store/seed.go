package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/previsao/market-api/internal/model"
)

// DemoEmail is the login of the seeded demo account.
const DemoEmail = "maria@example.com"

type seedMarket struct {
	id, title, description, category string
	closeTime                        time.Time
	volume                           string
	yes, no                          string
}

var demoMarkets = []seedMarket{
	{
		id:          "market_lula_2026",
		title:       "Lula será reeleito em 2026?",
		description: "Resolve para SIM se Luiz Inácio Lula da Silva vencer a eleição presidencial de 2026.",
		category:    "Política",
		closeTime:   time.Date(2026, 10, 1, 23, 59, 59, 0, time.UTC),
		volume:      "2450000",
		yes:         "0.42",
		no:          "0.58",
	},
	{
		id:          "market_selic_2025",
		title:       "Selic abaixo de 10% até dezembro 2025?",
		description: "Resolve para SIM se a taxa Selic estiver abaixo de 10% ao ano na última reunião do Copom de 2025.",
		category:    "Economia",
		closeTime:   time.Date(2025, 12, 15, 23, 59, 59, 0, time.UTC),
		volume:      "890000",
		yes:         "0.23",
		no:          "0.77",
	},
	{
		id:          "market_dolar_6",
		title:       "Dólar acima de R$6,50 em março 2025?",
		description: "Resolve para SIM se a cotação do dólar comercial ultrapassar R$6,50 em qualquer momento de março de 2025.",
		category:    "Economia",
		closeTime:   time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC),
		volume:      "3200000",
		yes:         "0.65",
		no:          "0.35",
	},
}

// SeedDemo loads the demo markets and the demo account. Rows that already
// exist are left alone, so it is safe to run on every start.
func SeedDemo(ctx context.Context, st Store, passwordHash string) error {
	now := time.Now().UTC()
	for i, sm := range demoMarkets {
		if _, err := st.GetMarket(ctx, sm.id); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		m := &model.Market{
			ID:          sm.id,
			Title:       sm.title,
			Description: sm.description,
			Category:    sm.category,
			Status:      model.MarketOpen,
			CloseTime:   sm.closeTime,
			Outcomes: []model.Outcome{
				{ID: sm.id + "_yes", Title: "Sim"},
				{ID: sm.id + "_no", Title: "Não"},
			},
			Prices: []model.MarketPrice{
				{OutcomeID: sm.id + "_yes", Price: decimal.RequireFromString(sm.yes)},
				{OutcomeID: sm.id + "_no", Price: decimal.RequireFromString(sm.no)},
			},
			VolumeBRL: decimal.RequireFromString(sm.volume),
			// Keep listing order stable: first market is newest.
			CreatedAt: now.Add(-time.Duration(i) * time.Second),
		}
		if err := st.CreateMarket(ctx, m); err != nil {
			return fmt.Errorf("seed market %s: %w", sm.id, err)
		}
	}

	if _, err := st.GetUserByEmail(ctx, DemoEmail); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	userID := uuid.New().String()
	return st.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateUser(ctx, &model.User{
			ID:           userID,
			Email:        DemoEmail,
			PasswordHash: passwordHash,
			FullName:     "Maria Silva",
			Role:         model.RoleCustomer,
			KYCStatus:    model.KYCNotStarted,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
		return tx.CreateWallet(ctx, &model.WalletBalance{
			UserID:    userID,
			Available: decimal.RequireFromString("1250.5"),
			Reserved:  decimal.RequireFromString("200"),
			Total:     decimal.RequireFromString("1450.5"),
			UpdatedAt: now,
		})
	})
}
