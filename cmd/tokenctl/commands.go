package main

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"token-broker/internal/app"
	"token-broker/internal/common/errors"
	"token-broker/internal/oauth2"
)

type appBuilder func() (*app.App, error)

func newCLI(out io.Writer, build appBuilder) *cli.App {
	// withApp builds the application for one command and tears it down after.
	withApp := func(action func(*cli.Context, *app.App) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Cleanup()
			return action(c, a)
		}
	}

	return &cli.App{
		Name:      "tokenctl",
		Usage:     "operate on a token broker's credentials and principals",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "access token operations",
				Subcommands: []*cli.Command{
					{
						Name:  "refresh",
						Usage: "print a usable access token, refreshing it when it expires within the window",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "kid", Aliases: []string{"k"}, Usage: "credential id", Required: true},
							&cli.StringFlag{Name: "window", Aliases: []string{"s"}, Usage: "renewal window, as seconds or a duration", Value: oauth2.DefaultExpiryWindow.String()},
						},
						Action: withApp(func(c *cli.Context, a *app.App) error {
							window, err := oauth2.ParseWindow(c.String("window"))
							if err != nil {
								return err
							}
							token, err := a.Manager.GetUsableAccessToken(c.Context, c.Int64("kid"), window)
							if err != nil {
								return err
							}
							fmt.Fprintln(out, token)
							return nil
						}),
					},
				},
			},
			{
				Name:  "principal",
				Usage: "manage principals",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "create a principal and print its id",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "admin", Usage: "grant administrative rights"},
						},
						Action: withApp(func(c *cli.Context, a *app.App) error {
							principal, err := a.Storage.CreatePrincipal(c.Context, c.Bool("admin"))
							if err != nil {
								return err
							}
							fmt.Fprintln(out, principal.ID)
							return nil
						}),
					},
					{
						Name:  "token",
						Usage: "mint an API bearer token for a principal",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "uid", Usage: "principal id", Required: true},
						},
						Action: withApp(func(c *cli.Context, a *app.App) error {
							uid := c.Int64("uid")
							principal, err := a.Storage.GetPrincipal(c.Context, uid)
							if err != nil {
								return err
							}
							if principal == nil {
								return errors.NotFoundError(fmt.Sprintf("principal %d", uid))
							}
							if !principal.Active() {
								return errors.ValidationError(fmt.Sprintf("principal %d is disabled", uid))
							}
							token, err := a.Auth.GenerateJWT(principal)
							if err != nil {
								return err
							}
							fmt.Fprintln(out, token)
							return nil
						}),
					},
					{
						Name:  "disable",
						Usage: "stop a principal from using the API and starting authorizations",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "uid", Usage: "principal id", Required: true},
							&cli.BoolFlag{Name: "undo", Usage: "re-enable instead"},
						},
						Action: withApp(func(c *cli.Context, a *app.App) error {
							return a.Storage.SetPrincipalDisabled(c.Context, c.Int64("uid"), !c.Bool("undo"))
						}),
					},
				},
			},
			{
				Name:  "reap",
				Usage: "delete expired pending authorizations now",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					start := time.Now()
					n, err := a.Reaper.SweepOnce(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "removed %d expired pending authorizations in %s\n", n, time.Since(start).Round(time.Millisecond))
					return nil
				}),
			},
		},
	}
}
