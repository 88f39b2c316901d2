// admin is the operator CLI: it prints canonical room ids, issues invite
// links and runs maintenance queries against the database.
package main

import (
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/invite"
	"anonchat/backend/internal/room"
	"anonchat/backend/internal/storage"
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin [flags] <command> [args]

Commands:
  room-id <identity_a> <identity_b>   print the room id of a pair
  issue-invite <owner_id>             issue an invite token for owner
  purge-invites                       delete expired invite tokens
  stats                               print row counts

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var dsn string
	var timeout time.Duration
	flagSet := pflag.NewFlagSet("admin", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", cfg.DatabaseDSN, "PostgreSQL connection string")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "deadline for the whole command")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.Usage()
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return fmt.Errorf("missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch args[0] {
	case "room-id":
		if len(args) != 3 {
			return fmt.Errorf("usage: admin room-id <identity_a> <identity_b>")
		}
		id, err := room.Canonicalize(args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "issue-invite":
		if len(args) != 2 {
			return fmt.Errorf("usage: admin issue-invite <owner_id>")
		}
		return issueInvite(ctx, dsn, args[1], cfg.InviteSingleUse)

	case "purge-invites":
		db, err := openSQL(ctx, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		n, err := purgeInvites(ctx, db, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d expired invite(s).\n", n)
		return nil

	case "stats":
		db, err := openSQL(ctx, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return printStats(ctx, db)

	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openSQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// issueInvite goes through the provisioner so the token gets the same TTL
// and owner check as one issued over HTTP. No Redis is needed for it.
func issueInvite(ctx context.Context, dsn, ownerID string, singleUse bool) error {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	s := storage.NewStorageService(db, nil)
	clk := clock.Real()
	svc := chat.Build(s, clk)
	token, err := invite.NewProvisioner(s, svc.Identities, svc.Rooms, clk, singleUse).Issue(ctx, ownerID)
	if err != nil {
		return err
	}
	fmt.Printf("Invite %s for %s expires at %s.\n", token.TokenID, ownerID, token.ExpiresAt.Format(time.RFC3339))
	return nil
}

func purgeInvites(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM invite_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge invites: %w", err)
	}
	return res.RowsAffected()
}

var statTables = []string{"identities", "rooms", "chat_list_entries", "aliases", "messages", "invite_tokens"}

func printStats(ctx context.Context, db *sql.DB) error {
	for _, table := range statTables {
		var n int64
		// Table names come from the fixed list above.
		if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		fmt.Printf("%-18s %d\n", table, n)
	}
	return nil
}
