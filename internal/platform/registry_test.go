package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/courseloop/ltibridge/internal/db"
)

func openTestRegistry(t *testing.T) *SQLRegistry {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSQLRegistry(conn, zerolog.Nop())
}

func testPlatform(issuer string) Platform {
	return Platform{
		Issuer:       issuer,
		ClientID:     "client-1",
		Name:         "Test LMS",
		AuthLoginURL: issuer + "/auth",
		AuthTokenURL: issuer + "/token",
		KeySetURL:    issuer + "/jwks",
		DeploymentID: "dep-1",
	}
}

func TestRegistryResolveByIssuer(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, testPlatform("https://lms-a.example.edu"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	got, err := reg.ResolveByIssuer(ctx, "https://lms-a.example.edu")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != created.ID || got.ClientID != "client-1" {
		t.Errorf("resolved = %+v", got)
	}

	if _, err := reg.ResolveByIssuer(ctx, "https://unknown.example.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown issuer err = %v", err)
	}
	if _, err := reg.ResolveByIssuer(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty issuer err = %v", err)
	}
}

func TestRegistryDeactivateStopsResolution(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, testPlatform("https://lms-a.example.edu"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Deactivate(ctx, created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := reg.ResolveByIssuer(ctx, "https://lms-a.example.edu"); !errors.Is(err, ErrNotFound) {
		t.Errorf("resolve after deactivate err = %v", err)
	}

	// Soft delete: the row is still readable by id.
	got, err := reg.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Errorf("platform still active after deactivate")
	}

	if err := reg.Deactivate(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deactivate missing err = %v", err)
	}
}

func TestRegistryFallbackDisabledByDefault(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Create(ctx, testPlatform("https://lms-a.example.edu")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.ResolveByIssuer(ctx, "https://unknown.example.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("fallback must be off by default, err = %v", err)
	}
}

func TestRegistryFallbackSoleActivePlatform(t *testing.T) {
	reg := openTestRegistry(t)
	reg.AllowSingleTenantFallback = true
	ctx := context.Background()

	created, err := reg.Create(ctx, testPlatform("https://lms-a.example.edu"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := reg.ResolveByIssuer(ctx, "https://unknown.example.org")
	if err != nil {
		t.Fatalf("fallback resolve: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("fallback resolved = %+v", got)
	}
}

func TestRegistryFallbackAmbiguous(t *testing.T) {
	reg := openTestRegistry(t)
	reg.AllowSingleTenantFallback = true
	ctx := context.Background()

	if _, err := reg.Create(ctx, testPlatform("https://lms-a.example.edu")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create(ctx, testPlatform("https://lms-b.example.edu")); err != nil {
		t.Fatal(err)
	}

	// Two active platforms: there is no sole tenant to fall back to.
	if _, err := reg.ResolveByIssuer(ctx, "https://unknown.example.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ambiguous fallback err = %v", err)
	}

	// A direct issuer match still resolves.
	if _, err := reg.ResolveByIssuer(ctx, "https://lms-b.example.edu"); err != nil {
		t.Errorf("direct resolve: %v", err)
	}
}

func TestRegistryListActive(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, testPlatform("https://lms-a.example.edu"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create(ctx, testPlatform("https://lms-b.example.edu")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Deactivate(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	list, err := reg.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Issuer != "https://lms-b.example.edu" {
		t.Errorf("list = %+v", list)
	}
}

func TestRegistryCreateValidation(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Create(ctx, Platform{ClientID: "c"}); err == nil {
		t.Errorf("create without issuer should fail")
	}
	if _, err := reg.Create(ctx, Platform{Issuer: "https://lms.example.edu"}); err == nil {
		t.Errorf("create without client_id should fail")
	}
}
