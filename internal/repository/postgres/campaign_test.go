package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

func newMock(t *testing.T) (*CampaignRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCampaignRepo(db), mock
}

func TestCampaignGet(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	cfg, _ := json.Marshal(domain.CampaignConfig{Name: "Spring", Type: domain.CampaignPropertyUpdates})

	mock.ExpectQuery("SELECT id, status, config").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "config", "started_at", "completed_at", "created_at", "updated_at",
		}).AddRow("c1", "running", cfg, nil, nil, now, now))

	c, err := repo.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != domain.CampaignRunning || c.Config.Name != "Spring" {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCampaignGetNotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery("SELECT id, status, config").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "config", "started_at", "completed_at", "created_at", "updated_at",
		}))

	if _, err := repo.Get(context.Background(), "ghost"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCampaignUpdateStatusGuarded(t *testing.T) {
	repo, mock := newMock(t)

	// The UPDATE matches zero rows; the follow-up SELECT shows why.
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM campaigns").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := repo.UpdateStatus(context.Background(), "c1", domain.CampaignRunning)
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCampaignUpdateStatusApplies(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateStatus(context.Background(), "c1", domain.CampaignPaused); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// The increment must add to the stored row inside the statement; a
// whole-row overwrite would lose concurrent updates.
func TestMetricsIncrementIsAdditive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewMetricsRepo(db)

	at := time.Date(2026, 4, 1, 9, 10, 0, 0, time.UTC)
	delay := 12.5
	mock.ExpectExec(`campaign_metrics\.opened \+ EXCLUDED\.opened`).
		WithArgs("c1", int64(0), int64(0), int64(0), int64(1), int64(0),
			int64(0), int64(0), 12.5, 0.0, at, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ierr := repo.Increment(context.Background(), "c1", domain.MetricsDelta{
		Opened:           1,
		OpenDelayMinutes: &delay,
		ObservedAt:       at,
	})
	if ierr != nil {
		t.Fatalf("increment: %v", ierr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeliveryUpdateStatusForwardOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewDeliveryRepo(db)

	mock.ExpectExec("UPDATE delivery_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM delivery_records").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("delivered"))

	uerr := repo.UpdateStatus(context.Background(), "t1", domain.DeliverySent, "", "")
	if uerr == nil {
		t.Fatal("expected forward-only violation")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
