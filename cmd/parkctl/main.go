package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/db"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/service"
	"github.com/tpsparking/api/internal/util"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "hash" {
		if err := runHash(args); err != nil {
			log.Fatal().Err(err).Msg("hash failed")
		}
		return
	}

	_ = godotenv.Load()

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		log.Fatal().Msg("DB_DSN is required")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot connect to database")
	}
	defer pool.Close()

	queries := repo.New(pool)

	switch cmd {
	case "migrate":
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate failed")
		}
		log.Info().Strs("applied", applied).Msg("migrations done")
	case "officer":
		if len(args) == 0 {
			usage()
			os.Exit(1)
		}
		switch args[0] {
		case "create":
			err = runOfficerCreate(ctx, queries, args[1:])
		case "list":
			err = runOfficerList(ctx, queries)
		default:
			usage()
			os.Exit(1)
		}
		if err != nil {
			log.Fatal().Err(err).Str("command", "officer "+args[0]).Msg("command failed")
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "parkctl")
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  parkctl hash <password>")
	fmt.Fprintln(os.Stderr, "  parkctl migrate")
	fmt.Fprintln(os.Stderr, "  parkctl officer create --email a@b.c --password secret --role controller --cities Haifa,Tel-Aviv")
	fmt.Fprintln(os.Stderr, "  parkctl officer list")
}

func runHash(args []string) error {
	if len(args) < 1 {
		return errors.New("password argument is required")
	}
	hash, err := auth.Hash(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runOfficerCreate(ctx context.Context, queries *repo.Queries, args []string) error {
	fs := flag.NewFlagSet("officer create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		email     = fs.String("email", "", "login e-mail")
		password  = fs.String("password", "", "initial password (min 8 characters)")
		role      = fs.String("role", string(auth.RoleController), "controller, manager or superuser")
		cities    = fs.String("cities", "", "comma separated allowed cities")
		firstName = fs.String("first-name", "", "first name")
		lastName  = fs.String("last-name", "", "last name")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, ok := auth.ParseRole(*role)
	if !ok || !r.IsOfficer() {
		return fmt.Errorf("role %q is not an officer role", *role)
	}
	if err := util.ValidateEmail(*email); err != nil {
		return err
	}
	if err := util.ValidatePassword(*password); err != nil {
		return err
	}

	hash, err := auth.Hash(*password)
	if err != nil {
		return err
	}

	user, err := queries.CreateUser(ctx, repo.CreateUserParams{
		Email:         util.NormalizeEmail(*email),
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(*firstName),
		LastName:      strings.TrimSpace(*lastName),
		Role:          r,
		AllowedCities: splitCities(*cities),
	})
	if err != nil {
		return err
	}

	output, _ := json.MarshalIndent(service.NewProfile(user), "", "  ")
	fmt.Println(string(output))
	return nil
}

func runOfficerList(ctx context.Context, queries *repo.Queries) error {
	users, err := queries.ListOfficers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("no officers registered")
		return nil
	}

	profiles := make([]service.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, service.NewProfile(u))
	}
	encoded, _ := json.MarshalIndent(profiles, "", "  ")
	fmt.Println(string(encoded))
	return nil
}

func splitCities(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if c := strings.TrimSpace(part); c != "" {
			out = append(out, c)
		}
	}
	return out
}
