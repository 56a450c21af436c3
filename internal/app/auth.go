package app

import (
	"token-broker/internal/auth"
	"token-broker/internal/common/logging"
	"token-broker/internal/identity"
	"token-broker/internal/oauth2"
)

func (app *App) initializeAuth() error {
	app.Auth = auth.New(app.Storage, app.Config)
	return nil
}

func (app *App) initializeIdentity() error {
	client, err := identity.NewClient(identity.Config{
		ClientID:     app.Config.ProviderClientID,
		ClientSecret: app.Config.ProviderClientSecret,
		AuthURL:      app.Config.ProviderAuthURL,
		TokenURL:     app.Config.ProviderTokenURL,
		VerifyURL:    app.Config.ProviderVerifyURL,
		NameField:    app.Config.ProviderNameField,
		Timeout:      app.Config.ProviderTimeout,
	}, app.Logger.WithFields(logging.String("component", "identity")))
	if err != nil {
		return err
	}
	app.Identity = client
	return nil
}

func (app *App) initializeManager() error {
	manager, err := oauth2.NewManager(app.Storage, app.Identity, oauth2.Options{
		CallbackURL:     app.Config.CallbackURL,
		PendingLifetime: app.Config.PendingAuthLifetime,
		ProviderTimeout: app.Config.ProviderTimeout,
		Logger:          app.Logger.WithFields(logging.String("component", "oauth2")),
	})
	if err != nil {
		return err
	}
	app.Manager = manager
	app.Logger.Info("OAuth2 manager initialized",
		logging.Duration("pending_lifetime", app.Config.PendingAuthLifetime),
		logging.String("callback_url", app.Config.CallbackURL),
	)
	return nil
}

func (app *App) initializeReaper() error {
	opts := oauth2.ReaperOptions{
		Schedule: app.Config.ReaperSchedule,
		Logger:   app.Logger.WithFields(logging.String("component", "reaper")),
	}
	if app.Locks != nil {
		opts.Locker = app.Locks
	}

	reaper, err := oauth2.NewReaper(app.Storage, opts)
	if err != nil {
		return err
	}
	app.Reaper = reaper
	return nil
}
