package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"authcore.org/internal/auth"
	"authcore.org/internal/client"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	baseURL := getenv("AUTHCORE_SMOKE_URL", "http://localhost:8080")
	grpcAddr := getenv("AUTHCORE_SMOKE_GRPC_ADDR", "localhost:9090")
	login := getenv("AUTHCORE_ROOT_USERNAME", "root")
	password := os.Getenv("AUTHCORE_ROOT_PASSWORD")
	if password == "" {
		log.Fatal("AUTHCORE_ROOT_PASSWORD is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if grpcAddr != "off" {
		if err := client.CheckHealth(ctx, grpcAddr, ""); err != nil {
			log.Fatalf("grpc health at %s: %v", grpcAddr, err)
		}
	}

	c := client.New(baseURL, nil)
	root, err := c.Login(ctx, login, password)
	if err != nil {
		log.Fatalf("root login: %v", err)
	}
	admin := c.WithToken(root.Token)
	defer func() { _ = admin.Logout(context.Background()) }()

	suffix := time.Now().UnixNano()
	probePassword := fmt.Sprintf("smoke-%d", suffix)
	acct, err := admin.CreateAccount(ctx, auth.CreateAccountInput{
		Name:     "Smoke",
		Email:    fmt.Sprintf("smoke-%d@example.com", suffix),
		Username: fmt.Sprintf("smoke%d", suffix),
		Password: probePassword,
	})
	if err != nil {
		log.Fatalf("create account: %v", err)
	}
	perm, err := admin.CreateEntry(ctx, auth.CatalogPermissions, fmt.Sprintf("SMOKE_%d", suffix), "smoke")
	if err != nil {
		log.Fatalf("create permission: %v", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.DeleteEntry(cleanup, auth.CatalogPermissions, perm.ID)
		_ = admin.DeleteAccount(cleanup, acct.ID)
	}()

	// Повторный sync не должен ничего менять.
	for i := 0; i < 2; i++ {
		if err := admin.Sync(ctx, auth.CatalogPermissions, acct.ID, []uuid.UUID{perm.ID}); err != nil {
			log.Fatalf("sync permissions: %v", err)
		}
	}

	session, err := c.Login(ctx, acct.Username, probePassword)
	if err != nil {
		log.Fatalf("probe login: %v", err)
	}
	probe := c.WithToken(session.Token)
	me, err := probe.Whoami(ctx)
	if err != nil {
		log.Fatalf("whoami: %v", err)
	}
	if me.Account.ID != acct.ID || !me.HasPermission(perm.Code) {
		log.Fatalf("unexpected principal: account=%s permissions=%v", me.Account.ID, me.PermissionCodes())
	}

	if err := probe.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if _, err := probe.Whoami(ctx); !errors.Is(err, auth.ErrUnauthorized) {
		log.Fatalf("token still valid after logout: %v", err)
	}

	fmt.Printf("✅ authcore smoke test passed: account=%s permission=%s\n", acct.ID, perm.Code)
}
