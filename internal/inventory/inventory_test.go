package inventory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func newInventoryServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/CharPage/Inventory" {
			t.Errorf("path = %q, want /CharPage/Inventory", r.URL.Path)
		}
		if r.URL.Query().Get("ccid") == "" {
			t.Error("missing ccid query parameter")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const sampleInventory = `[
	{"strName": "Blade of Awe", "strType": "Weapon"},
	{"strName": "StoneCrusher", "strType": "Class"},
	{"strName": "Healer", "strType": "class"},
	{"strName": "Helm of Doom", "strType": "Helm"}
]`

func TestOwnedOfReturnsAllClassesWhenUnconstrained(t *testing.T) {
	srv := newInventoryServer(t, sampleInventory, http.StatusOK)
	c := NewClient(srv.URL, time.Second)

	got, err := c.OwnedOf(context.Background(), "12345", nil)
	if err != nil {
		t.Fatalf("OwnedOf() error = %v", err)
	}
	want := []string{"StoneCrusher", "Healer"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("OwnedOf() = %v, want %v", got, want)
	}
}

func TestOwnedOfFiltersWantedRoles(t *testing.T) {
	srv := newInventoryServer(t, sampleInventory, http.StatusOK)
	c := NewClient(srv.URL, time.Second)

	got, err := c.OwnedOf(context.Background(), "12345", []string{"Healer", "Tank"})
	if err != nil {
		t.Fatalf("OwnedOf() error = %v", err)
	}
	want := []string{"Healer"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("OwnedOf() = %v, want %v", got, want)
	}
}

func TestHasRoleHonorsEquivalents(t *testing.T) {
	srv := newInventoryServer(t, sampleInventory, http.StatusOK)
	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	// The account owns StoneCrusher, which counts as Infinity Titan.
	ok, err := c.HasRole(ctx, "12345", "Infinity Titan")
	if err != nil {
		t.Fatalf("HasRole() error = %v", err)
	}
	if !ok {
		t.Fatal("equivalent class not accepted")
	}

	ok, err = c.HasRole(ctx, "12345", "Blade of Awe")
	if err != nil {
		t.Fatalf("HasRole() error = %v", err)
	}
	if ok {
		t.Fatal("non-class item accepted as a role")
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := newInventoryServer(t, "oops", http.StatusInternalServerError)
	c := NewClient(srv.URL, time.Second)

	_, err := c.HasRole(context.Background(), "12345", "Healer")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("HasRole() error = %v, want ErrUnavailable", err)
	}
}

func TestMalformedBodyIsUnavailable(t *testing.T) {
	srv := newInventoryServer(t, "<html>maintenance</html>", http.StatusOK)
	c := NewClient(srv.URL, time.Second)

	_, err := c.OwnedOf(context.Background(), "12345", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("OwnedOf() error = %v, want ErrUnavailable", err)
	}
}

func TestUnreachableHostIsUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 100*time.Millisecond)
	_, err := c.OwnedOf(context.Background(), "12345", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("OwnedOf() error = %v, want ErrUnavailable", err)
	}
}
