package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"conduit-client/internal/apierr"
	"conduit-client/internal/app"
	"conduit-client/internal/domain"
	"conduit-client/internal/service"
	"conduit-client/internal/storage"
	"conduit-client/internal/validate"
)

// errUsage is returned for bad command lines.
var errUsage = errors.New("usage")

type cli struct {
	app     *app.App
	backend storage.Backend
	out     io.Writer
	in      *bufio.Reader
}

type command struct {
	help string
	run  func(c *cli, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":    {"sign in with --email and --password", (*cli).login},
	"register": {"create an account", (*cli).register},
	"whoami":   {"show the signed-in user", (*cli).whoami},
	"update":   {"change profile fields", (*cli).update},
	"logout":   {"forget the session", (*cli).logout},
	"refresh":  {"re-validate the stored token", (*cli).refresh},
	"status":   {"show the authentication state", (*cli).status},
	"articles": {"list articles (--feed global|feed|tag, --tag, --page, --limit)", (*cli).articles},
	"tags":     {"list popular tags", (*cli).tags},
	"forget":   {"wipe the local session database", (*cli).forget},
}

func commandList() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  %-9s %s\n", name, commands[name].help)
	}
	return b.String()
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command", errUsage)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	err := cmd.run(c, ctx, args[1:])
	var ve *apierr.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("server rejected the request: %s", ve.Error())
	}
	return err
}

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// prompt reads one line from the input when a flag was left empty.
func (c *cli) prompt(label, value string) string {
	if value != "" {
		return value
	}
	fmt.Fprintf(c.out, "%s: ", label)
	line, _ := c.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	form := validate.LoginForm{Email: c.prompt("email", *email), Password: c.prompt("password", *password)}
	if err := validate.Login(form); err != nil {
		return err
	}
	sess, err := c.app.Auth.Login(ctx, form.Email, form.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(c.out, "signed in as %s\n", sess.User.Username)
	return nil
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := newFlags("register")
	username := fs.String("username", "", "user name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	confirm := fs.String("confirm", "", "password confirmation")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	form := validate.SignUpForm{
		Username:        *username,
		Email:           *email,
		Password:        *password,
		ConfirmPassword: *confirm,
	}
	if err := validate.SignUp(form); err != nil {
		return err
	}
	sess, err := c.app.Auth.Register(ctx, form.Username, form.Email, form.Password)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(c.out, "welcome, %s\n", sess.User.Username)
	return nil
}

func (c *cli) whoami(ctx context.Context, _ []string) error {
	user, err := c.app.Auth.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	if user == nil {
		fmt.Fprintln(c.out, "not signed in")
		return nil
	}
	printUser(c.out, user)
	return nil
}

func printUser(w io.Writer, u *domain.User) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "username\t%s\n", u.Username)
	fmt.Fprintf(tw, "email\t%s\n", u.Email)
	if u.Bio != nil {
		fmt.Fprintf(tw, "bio\t%s\n", *u.Bio)
	}
	if u.Image != nil {
		fmt.Fprintf(tw, "image\t%s\n", *u.Image)
	}
	tw.Flush()
}

func (c *cli) update(ctx context.Context, args []string) error {
	fs := newFlags("update")
	email := fs.String("email", "", "new email")
	username := fs.String("username", "", "new user name")
	bio := fs.String("bio", "", "new bio")
	image := fs.String("image", "", "new image URL")
	password := fs.String("password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	changed := func(name string, v *string) *string {
		if fs.Changed(name) {
			return v
		}
		return nil
	}
	form := validate.UpdateForm{
		Email:    changed("email", email),
		Username: changed("username", username),
		Bio:      changed("bio", bio),
		Image:    changed("image", image),
		Password: changed("password", password),
	}
	if form.Update().Empty() {
		return fmt.Errorf("%w: nothing to update", errUsage)
	}
	if err := validate.Update(form); err != nil {
		return err
	}
	user, err := c.app.Auth.UpdateUser(ctx, form.Update())
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	printUser(c.out, &user)
	return nil
}

func (c *cli) logout(context.Context, []string) error {
	c.app.Auth.Logout()
	fmt.Fprintln(c.out, "signed out")
	return nil
}

func (c *cli) refresh(ctx context.Context, _ []string) error {
	if err := c.app.Auth.RefreshToken(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "session is valid")
	return nil
}

func (c *cli) status(ctx context.Context, _ []string) error {
	status, err := c.app.Auth.Status(ctx)
	if err != nil {
		return err
	}
	state, _ := c.app.Auth.State()
	switch {
	case status.IsAuthenticated && status.User != nil:
		fmt.Fprintf(c.out, "%s as %s\n", state, status.User.Username)
	default:
		fmt.Fprintln(c.out, state)
	}
	return nil
}

func (c *cli) articles(ctx context.Context, args []string) error {
	fs := newFlags("articles")
	feed := fs.String("feed", string(domain.FeedGlobal), "global, feed or tag")
	tag := fs.String("tag", "", "tag to filter by")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", domain.DefaultLimit, "articles per page")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	svc := c.app.Feed
	if err := svc.SelectLimit(*limit); err != nil {
		return err
	}
	if *tag != "" {
		svc.SelectTag(*tag)
	} else if err := svc.SelectFeed(domain.FeedType(*feed)); err != nil {
		return err
	}
	if err := svc.SelectPage(*page); err != nil {
		return err
	}

	result, err := svc.Articles(ctx)
	if err != nil {
		return fmt.Errorf("articles: %w", err)
	}
	if len(result.Articles) == 0 {
		fmt.Fprintln(c.out, "no articles")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, a := range result.Articles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.CreatedAt.Format("2006-01-02"), a.Author.Username, a.Title, strings.Join(a.TagList, ","))
	}
	tw.Flush()

	r := svc.Range()
	fmt.Fprintf(c.out, "\nShowing %d to %d of %d articles\n", r.Start, r.End, r.Total)
	if links := svc.PageNumbers(); len(links) > 1 {
		fmt.Fprintln(c.out, pageBar(links, svc.Selection().Page))
	}
	return nil
}

func pageBar(links []service.PageLink, current int) string {
	parts := make([]string, 0, len(links))
	for _, l := range links {
		switch {
		case l.Gap:
			parts = append(parts, "...")
		case l.Number == current:
			parts = append(parts, "["+strconv.Itoa(l.Number)+"]")
		default:
			parts = append(parts, strconv.Itoa(l.Number))
		}
	}
	return strings.Join(parts, " ")
}

func (c *cli) tags(ctx context.Context, _ []string) error {
	tags, err := c.app.Feed.Tags(ctx)
	if err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	fmt.Fprintln(c.out, strings.Join(tags, " "))
	return nil
}

func (c *cli) forget(context.Context, []string) error {
	c.app.Auth.Logout()
	if err := c.backend.Clear(); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	fmt.Fprintln(c.out, "local data removed")
	return nil
}
