// clinicctl provisions clinics and issues staff credentials.
//
//	clinicctl tenant-create --name "City Clinic" --timezone Asia/Kolkata
//	clinicctl fee-set --tenant <id> --reason Consultation --fees 500
//	clinicctl token-issue --tenant <id> --role doctor --staff <id> --ttl 12h
//	clinicctl gen-key
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/wolfman30/clinic-queue/internal/app/bootstrap"
	"github.com/wolfman30/clinic-queue/internal/auth"
	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	"github.com/wolfman30/clinic-queue/internal/encryption"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

func main() {
	if err := run(context.Background(), appconfig.Load(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: clinicctl <tenant-create|fee-set|token-issue|gen-key> [flags]")

func run(ctx context.Context, cfg *appconfig.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "tenant-create":
		return tenantCreate(ctx, cfg, rest, out)
	case "fee-set":
		return feeSet(ctx, cfg, rest)
	case "token-issue":
		return tokenIssue(cfg, rest, out)
	case "gen-key":
		return genKey(out)
	}
	return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
}

func tenantCreate(ctx context.Context, cfg *appconfig.Config, args []string, out io.Writer) error {
	var name, timezone string
	flagSet := pflag.NewFlagSet("tenant-create", pflag.ContinueOnError)
	flagSet.StringVar(&name, "name", "", "clinic name")
	flagSet.StringVar(&timezone, "timezone", "", "IANA time zone (defaults to CLINIC_TIMEZONE)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if name == "" {
		return errors.New("--name is required")
	}

	engine, closeFn, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	id, err := engine.ProvisionTenant(ctx, name, timezone)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func feeSet(ctx context.Context, cfg *appconfig.Config, args []string) error {
	var tenant, reason string
	var fees int64
	flagSet := pflag.NewFlagSet("fee-set", pflag.ContinueOnError)
	flagSet.StringVar(&tenant, "tenant", "", "tenant id")
	flagSet.StringVar(&reason, "reason", "", "visit reason the fee applies to")
	flagSet.Int64Var(&fees, "fees", 0, "fee amount")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return fmt.Errorf("--tenant: %w", err)
	}
	if reason == "" || fees < 0 {
		return errors.New("--reason and a non-negative --fees are required")
	}

	engine, closeFn, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return engine.SetFee(ctx, tenantID, reason, fees)
}

func tokenIssue(cfg *appconfig.Config, args []string, out io.Writer) error {
	var tenant, role, staff string
	var ttl time.Duration
	flagSet := pflag.NewFlagSet("token-issue", pflag.ContinueOnError)
	flagSet.StringVar(&tenant, "tenant", "", "tenant id")
	flagSet.StringVar(&role, "role", string(tenancy.RoleReceptionist), "doctor or receptionist")
	flagSet.StringVar(&staff, "staff", "", "staff member id (generated when empty)")
	flagSet.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return fmt.Errorf("--tenant: %w", err)
	}
	staffID := uuid.New()
	if staff != "" {
		if staffID, err = uuid.Parse(staff); err != nil {
			return fmt.Errorf("--staff: %w", err)
		}
	}
	parsedRole, err := tenancy.ParseRole(role)
	if err != nil {
		return err
	}
	actor, err := tenancy.NewActor(parsedRole, tenantID, staffID)
	if err != nil {
		return err
	}
	token, err := auth.NewVerifier(cfg.JWTSecret).Issue(actor, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func genKey(out io.Writer) error {
	key := make([]byte, encryption.KeySize)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	fmt.Fprintln(out, base64.StdEncoding.EncodeToString(key))
	return nil
}

func openEngine(ctx context.Context, cfg *appconfig.Config) (*queue.Engine, func(), error) {
	pool, sqlDB, err := bootstrap.BuildDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		_ = sqlDB.Close()
		pool.Close()
	}
	sealer, err := encryption.NewSealerFromBase64(cfg.EncryptionKey)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("load encryption key: %w", err)
	}
	engine, err := queue.NewEngine(queue.Config{
		Pool:   pool,
		Sealer: sealer,
		Logger: logging.New(cfg.LogLevel),
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return engine, closeFn, nil
}
