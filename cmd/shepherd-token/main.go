// Command shepherd-token mints a staff bearer token signed with the server's
// configured key. It is meant for local development against seeded data.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	jwttoken "shepherd/internal/jwt_token"
	"shepherd/internal/pickup/seed"
	"shepherd/internal/platform/config"
	staffmodels "shepherd/internal/staff/models"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shepherd-token: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("shepherd-token", flag.ContinueOnError)
	role := fs.String("role", "volunteer", "demo staff member: volunteer or supervisor")
	staff := fs.String("staff", "", "staff ID; overrides -role")
	ttl := fs.Duration("ttl", 8*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	demo := seed.DemoFixture()
	var (
		staffID uuid.UUID
		caps    []string
	)
	switch {
	case *staff != "":
		staffID, err = uuid.Parse(*staff)
		if err != nil {
			return fmt.Errorf("invalid staff ID: %w", err)
		}
	case *role == "volunteer":
		staffID = uuid.UUID(demo.Volunteer)
		caps = []string{staffmodels.CapabilityCheckInVolunteer.String()}
	case *role == "supervisor":
		staffID = uuid.UUID(demo.Supervisor)
		caps = []string{staffmodels.CapabilityCheckInVolunteer.String(), staffmodels.CapabilitySupervisor.String()}
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	tokens := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	token, err := tokens.GenerateAccessToken(staffID, caps, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
