package tenant

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestAccessorsWithoutContext(t *testing.T) {
	var nilCtx context.Context
	for _, ctx := range []context.Context{nilCtx, context.Background()} {
		if got := RetrievalIndexID(ctx); got != "" {
			t.Fatalf("expected empty index id, got %q", got)
		}
		if got := UserID(ctx); got != "" {
			t.Fatalf("expected empty user id, got %q", got)
		}
		if _, ok := FromContext(ctx); ok {
			t.Fatalf("expected no tenant context")
		}
	}
}

func TestNestedCallsSeeSameValues(t *testing.T) {
	ctx := WithContext(context.Background(), Context{
		RetrievalIndexID: "idx-colegio-1",
		OrganizationID:   "org-1",
		SessionID:        "sess-1",
		Caller:           Caller{UserID: "u-1"},
	})
	child, cancel := context.WithCancel(ctx)
	defer cancel()

	if RetrievalIndexID(child) != "idx-colegio-1" || OrganizationID(child) != "org-1" {
		t.Fatalf("child context lost tenant values: %+v", Current(child))
	}
}

func TestWithContextCopiesValue(t *testing.T) {
	tc := Context{OrganizationID: "org-1"}
	ctx := WithContext(context.Background(), tc)
	tc.OrganizationID = "org-2"
	if OrganizationID(ctx) != "org-1" {
		t.Fatalf("tenant context mutated after install")
	}
}

func TestConcurrentRequestsAreIsolated(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("idx-%d", i)
			ctx := WithContext(context.Background(), Context{RetrievalIndexID: want})
			for range 100 {
				if got := RetrievalIndexID(ctx); got != want {
					errs <- fmt.Errorf("request %d saw %q", i, got)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
