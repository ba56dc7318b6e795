package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"yashubustudio/nutriscan/internal/auth"
	"yashubustudio/nutriscan/internal/database"
	"yashubustudio/nutriscan/internal/ledger"
	"yashubustudio/nutriscan/internal/metrics"
	"yashubustudio/nutriscan/predictor"
)

// stores holds the persistence side of the application.
type stores struct {
	db     *sqlx.DB
	ledger *ledger.Ledger
	users  auth.UserStore
}

func openStores(ctx context.Context, c predictor.Config) (*stores, error) {
	hook := ledger.WithRecordHook(func(ledger.VitaminRecord) { metrics.RecordLedgerWrite() })
	if c.Database.Driver == "memory" {
		return &stores{
			ledger: ledger.New(ledger.NewMemoryStore(), hook),
			users:  auth.NewMemoryUserStore(),
		}, nil
	}
	db, err := database.Open(ctx, c.Database.Driver, c.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := database.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stores{
		db:     db,
		ledger: ledger.New(ledger.NewSQLStore(db), hook),
		users:  auth.NewSQLUserStore(db),
	}, nil
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// app is the fully wired prediction stack.
type app struct {
	*stores
	provisioner *predictor.Provisioner
	runtime     *predictor.Runtime
	service     *predictor.Service
	auth        *auth.Service
}

func newProvisioner(c predictor.Config, log *zap.Logger) *predictor.Provisioner {
	return predictor.NewProvisioner(predictor.ProvisionerOptions{
		URL:          c.Model.ArtifactURL,
		Path:         c.Model.ArtifactPath,
		PollInterval: c.Model.PollInterval.Std(),
		PollAttempts: c.Model.PollAttempts,
		Timeout:      c.Model.DownloadTimeout.Std(),
		Logger:       log.Named("provisioner"),
	})
}

// newApp wires every component without loading the model.
func newApp(ctx context.Context, c predictor.Config, log *zap.Logger, loader predictor.ModelLoader) (*app, error) {
	table, err := predictor.LoadDeficiencyTable(c.Model.MappingPath)
	if err != nil {
		return nil, fmt.Errorf("load deficiency table: %w", err)
	}
	log.Info("deficiency table loaded", zap.Int("entries", table.Len()))

	if loader == nil {
		loader = predictor.NewOrtLoader(predictor.OrtLoaderConfig{
			LibraryPath: c.Model.OrtLibrary,
			InputName:   c.Model.InputName,
			OutputName:  c.Model.OutputName,
		})
	}
	prov := newProvisioner(c, log)
	runtime, err := predictor.NewRuntime(predictor.RuntimeOptions{
		Source:         prov,
		Loader:         loader,
		VocabularyPath: c.Model.VocabularyPath,
		Logger:         log.Named("runtime"),
		OnStateChange: func(s predictor.State) {
			metrics.SetModelState(s.String())
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init runtime: %w", err)
	}
	metrics.SetModelState(runtime.State().String())

	st, err := openStores(ctx, c)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open stores: %w", err), runtime.Close(), prov.Close())
	}
	service, err := predictor.NewService(runtime, table, predictor.ServiceOptions{
		LoadOnDemand:  c.Model.LoadOnDemand,
		CacheSize:     c.Model.CacheSize,
		Interpolation: c.Preprocess.Interpolation,
		Recorder:      st.ledger,
		Logger:        log.Named("predictor"),
		Observe:       metrics.RecordPrediction,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("init service: %w", err), runtime.Close(), prov.Close(), st.Close())
	}
	authSvc, err := auth.NewService(st.users, auth.Options{
		Secret:   c.Auth.Secret,
		TokenTTL: c.Auth.TokenTTL.Std(),
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("init auth: %w", err), runtime.Close(), prov.Close(), st.Close())
	}
	return &app{
		stores:      st,
		provisioner: prov,
		runtime:     runtime,
		service:     service,
		auth:        authSvc,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.runtime.Close(), a.provisioner.Close(), a.stores.Close(), predictor.ShutdownOrt())
}
