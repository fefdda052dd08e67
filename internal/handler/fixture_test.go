package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/capisim/capisim/internal/catalog"
	"github.com/capisim/capisim/internal/dispatch"
	"github.com/capisim/capisim/internal/event"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/scheduler"
	"github.com/capisim/capisim/internal/service"
	"github.com/capisim/capisim/internal/state"
)

type testEnv struct {
	store   *state.Store
	loop    *scheduler.AutoLoop
	control *ControlHandler
	send    *SendHandler
}

func newTestEnv(t *testing.T, capi dispatch.CAPIConfig) *testEnv {
	t.Helper()

	store := state.New(state.Options{
		Catalog: catalog.FromProducts("http://shop.test",
			model.Product{SKU: "SKU1", Name: "Mug", Price: 50},
			model.Product{SKU: "SKU2", Name: "Tee", Price: 120},
		),
		LedgerCapacity: 100,
	})
	builder := event.NewBuilder(event.BuilderConfig{Catalog: store, StoreCurrency: "USD"})
	router := dispatch.NewRouter(dispatch.RouterConfig{
		Store: store,
		CAPI:  dispatch.NewCAPIClient(capi),
	})
	sim := service.NewSimulator(builder, event.NewInjector(nil), router, nil)
	loop := scheduler.New(scheduler.Config{Sender: sim, Store: store})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = loop.Shutdown(ctx)
	})

	return &testEnv{
		store:   store,
		loop:    loop,
		control: NewControlHandler(store, loop, router.Readiness(), nil),
		send:    NewSendHandler(sim, nil),
	}
}

// do runs fn against a JSON request and decodes the JSON response into a map.
func do(t *testing.T, fn http.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fn(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, out
}
