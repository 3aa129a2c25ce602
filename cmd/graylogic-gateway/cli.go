package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

// cliActor identifies admin actions taken from the command line in the audit log.
const cliActor = "cli"

const timeLayout = "2006-01-02 15:04"

// errUsage is returned when a subcommand is called with bad arguments.
var errUsage = errors.New("usage")

// adminEnv is the slice of the server wiring the credential commands need.
type adminEnv struct {
	db      *database.DB
	tokens  *credential.TokenStore
	invites *credential.InviteStore
	audit   *audit.BestEffort
}

func openAdminEnv(ctx context.Context) (*adminEnv, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tokens := credential.NewTokenStore(ctx, db.DB)
	invites := credential.NewInviteStore(ctx, db.DB)
	for _, initErr := range []error{tokens.InitErr(), invites.InitErr()} {
		if initErr != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, initErr
		}
	}

	log := logging.New(cfg.Logging, version).Component("cli")
	return &adminEnv{
		db:      db,
		tokens:  tokens,
		invites: invites,
		audit:   audit.NewBestEffort(audit.NewSQLiteRepository(db.DB), log.Logger),
	}, nil
}

func (e *adminEnv) Close() error {
	return e.db.Close()
}

func (e *adminEnv) record(ctx context.Context, action, resource string, details map[string]any) {
	e.audit.Log(ctx, audit.Entry{
		ActorType: audit.ActorSystem,
		ActorID:   cliActor,
		Action:    action,
		Resource:  resource,
		Result:    audit.ResultSuccess,
		Details:   details,
	})
}

// runTokens implements "tokens create|list|revoke".
func runTokens(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: tokens create|list|revoke", errUsage)
	}
	sub, args := args[0], args[1:]

	var action func(*adminEnv) error
	switch sub {
	case "create":
		fs := newFlagSet("tokens create", out)
		name := fs.String("name", "", "token name (required)")
		role := fs.String("role", string(auth.RoleOperator), "role: admin, operator, viewer or chat-only")
		scopes := fs.String("scopes", "", "comma-separated scope list")
		expires := fs.Duration("expires", 0, "lifetime, e.g. 720h; 0 never expires")
		if err := fs.Parse(args); err != nil {
			return err
		}
		params := credential.CreateTokenParams{
			Name:      *name,
			Role:      *role,
			Scopes:    splitList(*scopes),
			ExpiresAt: expiryFrom(*expires),
		}
		action = func(env *adminEnv) error {
			created, err := env.tokens.Create(ctx, params)
			if err != nil {
				return fmt.Errorf("creating token: %w", err)
			}
			env.record(ctx, audit.ActionTokenCreated, fmt.Sprint(created.Record.ID), map[string]any{
				"name": created.Record.Name,
				"role": string(created.Record.Role),
			})
			fmt.Fprintf(out, "Created token %q (id %d, role %s)\n", created.Record.Name, created.Record.ID, created.Record.Role)
			fmt.Fprintf(out, "%s\n", created.Token)
			fmt.Fprintln(out, "Store it now: the token cannot be shown again.")
			return nil
		}

	case "list":
		action = func(env *adminEnv) error {
			list, err := env.tokens.List(ctx)
			if err != nil {
				return fmt.Errorf("listing tokens: %w", err)
			}
			return printTokens(out, list)
		}

	case "revoke":
		if len(args) != 1 {
			return fmt.Errorf("%w: tokens revoke <id|name|hash-prefix>", errUsage)
		}
		identifier := args[0]
		action = func(env *adminEnv) error {
			res, err := env.tokens.Revoke(ctx, identifier)
			if err != nil {
				return fmt.Errorf("revoking token: %w", err)
			}
			if res.AlreadyRevoked {
				fmt.Fprintf(out, "Token %q was already revoked\n", res.Token.Name)
				return nil
			}
			env.record(ctx, audit.ActionTokenRevoked, fmt.Sprint(res.Token.ID), map[string]any{
				"name": res.Token.Name,
			})
			fmt.Fprintf(out, "Revoked token %q (id %d)\n", res.Token.Name, res.Token.ID)
			return nil
		}

	default:
		return fmt.Errorf("%w: unknown tokens subcommand %q", errUsage, sub)
	}

	return withAdminEnv(ctx, action)
}

// runInvite implements "invite create|list|revoke".
func runInvite(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: invite create|list|revoke", errUsage)
	}
	sub, args := args[0], args[1:]

	var action func(*adminEnv) error
	switch sub {
	case "create":
		fs := newFlagSet("invite create", out)
		role := fs.String("role", string(auth.RoleViewer), "role granted to the redeeming device")
		expires := fs.Duration("expires", 0, "lifetime, e.g. 24h; 0 never expires")
		maxUses := fs.Int("max-uses", 0, "redemption cap; 0 is unlimited")
		createdBy := fs.String("created-by", cliActor, "recorded creator")
		if err := fs.Parse(args); err != nil {
			return err
		}
		params := credential.CreateInviteParams{
			Role:      *role,
			ExpiresAt: expiryFrom(*expires),
			CreatedBy: *createdBy,
		}
		if *maxUses > 0 {
			params.MaxUses = maxUses
		}
		action = func(env *adminEnv) error {
			invite, err := env.invites.Create(ctx, params)
			if err != nil {
				return fmt.Errorf("creating invite: %w", err)
			}
			env.record(ctx, audit.ActionInviteCreated, fmt.Sprint(invite.ID), map[string]any{
				"role": string(invite.Role),
			})
			fmt.Fprintf(out, "Created invite (id %d, role %s)\n", invite.ID, invite.Role)
			fmt.Fprintf(out, "%s\n", invite.Code)
			return nil
		}

	case "list":
		action = func(env *adminEnv) error {
			list, err := env.invites.List(ctx)
			if err != nil {
				return fmt.Errorf("listing invites: %w", err)
			}
			return printInvites(out, list)
		}

	case "revoke":
		if len(args) != 1 {
			return fmt.Errorf("%w: invite revoke <id|code>", errUsage)
		}
		identifier := args[0]
		action = func(env *adminEnv) error {
			res, err := env.invites.Revoke(ctx, identifier)
			if err != nil {
				return fmt.Errorf("revoking invite: %w", err)
			}
			if res.AlreadyRevoked {
				fmt.Fprintf(out, "Invite %d was already revoked\n", res.Invite.ID)
				return nil
			}
			env.record(ctx, audit.ActionInviteRevoked, fmt.Sprint(res.Invite.ID), nil)
			fmt.Fprintf(out, "Revoked invite %d\n", res.Invite.ID)
			return nil
		}

	default:
		return fmt.Errorf("%w: unknown invite subcommand %q", errUsage, sub)
	}

	return withAdminEnv(ctx, action)
}

// runHashPassword reads a password from the first line of in and prints its
// argon2id hash for security.auth.password_hash.
func runHashPassword(args []string, in io.Reader, out io.Writer) error {
	fs := newFlagSet("hash-password", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("%w: password must be given on stdin", errUsage)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Fprintln(out, hash)
	return nil
}

func withAdminEnv(ctx context.Context, run func(*adminEnv) error) error {
	env, err := openAdminEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close() //nolint:errcheck // read-mostly CLI session
	return run(env)
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func expiryFrom(d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(d)
	return &t
}

func printTokens(out io.Writer, tokens []credential.APIToken) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tPREFIX\tSCOPES\tEXPIRES\tLAST USED\tSTATUS")
	for _, t := range tokens {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, t.Role, t.HashPrefix,
			orDash(strings.Join(t.Scopes, ",")),
			formatOptional(t.ExpiresAt), formatOptional(t.LastUsedAt),
			status(t.Revoked, t.Valid),
		)
	}
	return w.Flush()
}

func printInvites(out io.Writer, invites []credential.InviteCode) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tROLE\tUSES\tEXPIRES\tCREATED BY\tSTATUS")
	for _, i := range invites {
		uses := fmt.Sprintf("%d", i.UsedCount)
		if i.MaxUses != nil {
			uses = fmt.Sprintf("%d/%d", i.UsedCount, *i.MaxUses)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i.ID, i.Display, i.Role, uses,
			formatOptional(i.ExpiresAt), orDash(i.CreatedBy),
			status(i.Revoked, i.Valid),
		)
	}
	return w.Flush()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func status(revoked, valid bool) string {
	switch {
	case revoked:
		return "revoked"
	case valid:
		return "active"
	default:
		return "expired"
	}
}
