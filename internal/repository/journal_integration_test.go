//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/testutil"
)

func newJournalTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()

	dbURL := testutil.RequireEnv(t, "TEST_DATABASE_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	t.Cleanup(func() { _ = unlock() })

	if _, err := repo.Pool().Exec(ctx, "TRUNCATE dispatch_log"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return ctx, repo
}

func TestIntegrationJournal_InsertAndList(t *testing.T) {
	ctx, repo := newJournalTestEnv(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, name := range []model.EventName{model.EventPageView, model.EventAddToCart, model.EventPurchase} {
		ev := model.Event{
			EventName: name,
			EventID:   model.Some(testutil.UniqueID("evt")),
			SKU:       "SKU0001",
			CustomData: model.CustomData{
				Value:    model.Some(10.5),
				Currency: model.Null[string](),
			},
		}
		if _, err := repo.InsertDispatch(ctx, ev, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("InsertDispatch: %v", err)
		}
	}

	records, err := repo.ListRecentDispatches(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentDispatches: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].EventName != model.EventPurchase {
		t.Errorf("newest record = %s, want Purchase", records[0].EventName)
	}
	if records[0].Currency != nil {
		t.Errorf("null currency stored as %q", *records[0].Currency)
	}
	if records[0].Value == nil || *records[0].Value != 10.5 {
		t.Errorf("value = %v", records[0].Value)
	}

	var payload map[string]any
	if err := json.Unmarshal(records[0].Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["event_name"] != "Purchase" {
		t.Errorf("payload event_name = %v", payload["event_name"])
	}
}

func TestIntegrationJournal_SendImplementsSink(t *testing.T) {
	ctx, repo := newJournalTestEnv(t)

	if repo.Name() != model.SinkJournal {
		t.Fatalf("Name() = %s", repo.Name())
	}
	if err := repo.Send(ctx, model.Event{EventName: model.EventLead}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	records, err := repo.ListRecentDispatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListRecentDispatches: %v", err)
	}
	if len(records) != 1 || records[0].EventID != nil {
		t.Errorf("unexpected records: %+v", records)
	}
}
