package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudjanitor/cloudjanitor/pkg/aws"
	"github.com/cloudjanitor/cloudjanitor/pkg/config"
	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/ocp"
	"github.com/cloudjanitor/cloudjanitor/pkg/policy"
	"github.com/cloudjanitor/cloudjanitor/pkg/render"
	"github.com/cloudjanitor/cloudjanitor/pkg/sample"
	"github.com/cloudjanitor/cloudjanitor/pkg/shell"
	"github.com/cloudjanitor/cloudjanitor/pkg/stores"
	"github.com/cloudjanitor/cloudjanitor/pkg/telemetry"
	"github.com/cloudjanitor/cloudjanitor/pkg/transports/ssh"
)

// shutdownTimeout bounds flushing telemetry and the report at exit.
const shutdownTimeout = 10 * time.Second

// components are the collaborators tasks are built with. They do not depend
// on a run, so `cj tasks` can list the registry without creating one.
type components struct {
	inputs   *engine.InputRegistry
	registry *engine.Registry
	guard    *policy.Engine
	close    func() error
}

func newComponents(ctx context.Context, cfg *config.Loaded, executionID string, logger zerolog.Logger) (*components, error) {
	inputs := engine.NewInputRegistry(cfg)
	aws.RegisterInputs(inputs)
	sample.RegisterInputs(inputs)
	ocp.RegisterInputs(inputs)

	guard, err := policy.NewEngine(logger, policy.WithExecutionID(executionID))
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := guard.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Policy.Disabled {
		if err := guard.DisablePolicy(ctx, name); err != nil {
			return nil, err
		}
	}

	renderer, err := render.New(filepath.Join(cfg.Home, "templates"))
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	profile, _ := cfg.Lookup("aws.profile")
	profileName, _ := profile.(string)
	runner, closeRunner, err := newRunner(cfg, executionID, logger)
	if err != nil {
		return nil, err
	}

	registry := engine.NewRegistry()
	if err := errors.Join(
		sample.Register(registry),
		shell.Register(registry, runner),
		aws.Register(registry, aws.NewSession(profileName), guard, renderer, runner),
		ocp.Register(registry, renderer, runner),
	); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to register tasks: %w", err), closeRunner())
	}

	return &components{inputs: inputs, registry: registry, guard: guard, close: closeRunner}, nil
}

// newRunner picks where shell commands execute. The returned func releases
// the remote connection, if one was configured.
func newRunner(cfg *config.Loaded, executionID string, logger zerolog.Logger) (shell.Runner, func() error, error) {
	sshCfg := cfg.SSHConfig(executionID)
	if sshCfg == nil {
		return shell.Runner{Executor: shell.LocalExecutor{}}, func() error { return nil }, nil
	}
	remote, err := ssh.NewExecutor(sshCfg, logger)
	if err != nil {
		return shell.Runner{}, nil, err
	}
	logger.Info().Str("host", sshCfg.Address()).Msg("shell commands run remotely")
	return shell.Runner{Executor: remote}, remote.Close, nil
}

// app is one janitor run with its telemetry and report attached.
type app struct {
	cfg      *config.Loaded
	rc       *engine.Context
	tasks    *engine.Tasks
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	logger   zerolog.Logger
	started  time.Time
	taskName string
	comps    *components
}

func newApp(ctx context.Context, cfg *config.Loaded, taskName, version string) (*app, error) {
	started := time.Now()
	executionID := started.Format(engine.ExecutionIDFormat)

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(executionID, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	log.Logger = logger

	comps, err := newComponents(ctx, cfg, executionID, logger)
	if err != nil {
		return nil, errors.Join(err, tel.Shutdown(ctx))
	}

	opts, err := cfg.EngineOptions(executionID)
	if err != nil {
		return nil, errors.Join(err, comps.close(), tel.Shutdown(ctx))
	}
	opts.Inputs = comps.inputs
	opts.Logger = logger
	opts.Listeners = []engine.Listener{tel.Observer(executionID)}

	rc, err := engine.NewContext(opts)
	if err != nil {
		return nil, errors.Join(err, comps.close(), tel.Shutdown(ctx))
	}

	a := &app{
		cfg:      cfg,
		rc:       rc,
		tasks:    engine.NewTasks(rc),
		tel:      tel,
		logger:   logger,
		started:  started,
		taskName: taskName,
		comps:    comps,
	}

	if cfg.Report.Enabled {
		if err := a.openReport(ctx); err != nil {
			logger.Warn().Err(err).Msg("Run report disabled")
		}
	}

	tel.Metrics.StartMetricsServer(func(err error) {
		logger.Warn().Err(err).Msg("Metrics server stopped")
	})
	return a, nil
}

func (a *app) openReport(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.ReportPath(a.rc.ExecutionID)})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}

	caps := make([]string, 0)
	for _, c := range a.rc.Capabilities.List() {
		caps = append(caps, string(c))
	}
	if err := store.CreateRun(ctx, &stores.Run{
		ID:           a.rc.ExecutionID,
		Task:         a.taskName,
		Status:       stores.RunStatusRunning,
		DryRun:       a.rc.DryRun,
		Capabilities: encodeJSON(caps),
		StartedAt:    a.started.UTC(),
	}); err != nil {
		_ = store.Close()
		return err
	}

	stores.NewRecorder(store, a.rc.ExecutionID, a.tel.Logger.Component("report")).Subscribe(a.tel.Events)
	a.store = store
	return nil
}

// run submits the root task inside a run span.
func (a *app) run(ctx context.Context, task engine.Task) (engine.Task, error) {
	ctx, span := a.tel.Tracer.StartRunSpan(ctx, a.rc.ExecutionID, a.taskName)
	defer span.End()

	done, err := a.tasks.Submit(ctx, task)
	if err != nil {
		kind, _ := engine.KindOf(err)
		telemetry.RecordError(span, err, string(kind))
	} else {
		telemetry.RecordSuccess(span)
	}
	return done, err
}

// close flushes events before finishing the report, then tears down the run.
func (a *app) close(ctx context.Context, runErr error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	errs := []error{a.tel.Shutdown(ctx)}
	if a.store != nil {
		status, msg := stores.RunStatusCompleted, (*string)(nil)
		switch {
		case errors.Is(runErr, context.Canceled):
			status = stores.RunStatusCancelled
		case runErr != nil:
			status = stores.RunStatusFailed
		}
		if runErr != nil {
			s := runErr.Error()
			msg = &s
		}
		errs = append(errs, a.store.FinishRun(ctx, a.rc.ExecutionID, status, msg), a.store.Close())
	}
	errs = append(errs, a.comps.close(), a.rc.Close())
	return errors.Join(errs...)
}
