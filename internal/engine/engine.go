package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"mapline/internal/alert"
	"mapline/internal/config"
	"mapline/internal/domain"
	"mapline/internal/ledger"
	"mapline/internal/logging"
	"mapline/internal/permission"
	"mapline/internal/repo"
	"mapline/internal/telemetry"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Config  *config.Config
	Alerts  alert.Emitter
	Logger  *bolt.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Logger:  logging.Discard(),
		Metrics: telemetry.New(),
		Now:     time.Now,
	}
	e.Alerts = alert.Outbox{Repo: e.Repo}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// journal writes ledger rows with the engine clock.
func (e Engine) journal() ledger.Writer {
	return ledger.Writer{Now: e.now}
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *bolt.Logger {
	return logging.OrDiscard(e.Logger)
}

func (e Engine) cfg() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

// Issue is one failed business rule.
type Issue struct {
	Activity   string `json:"activity,omitempty"`
	Competency string `json:"competency,omitempty"`
	Unit       string `json:"unit,omitempty"`
	Reason     string `json:"reason"`
}

// ValidationError reports every failed rule of a gate; nothing was written.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	reasons := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		switch {
		case is.Activity != "":
			reasons = append(reasons, fmt.Sprintf("activity %s: %s", is.Activity, is.Reason))
		case is.Competency != "":
			reasons = append(reasons, fmt.Sprintf("competency %s: %s", is.Competency, is.Reason))
		case is.Unit != "":
			reasons = append(reasons, fmt.Sprintf("unit %s: %s", is.Unit, is.Reason))
		default:
			reasons = append(reasons, is.Reason)
		}
	}
	return "validation failed: " + strings.Join(reasons, "; ")
}

func invalid(issues ...Issue) error {
	return &ValidationError{Issues: issues}
}

// Process-level operations share the subprocess ForbiddenError.
const (
	opCreateProcess  domain.Action = "CREATE_PROCESS"
	opStartProcess   domain.Action = "START_PROCESS"
	opFinishProcess  domain.Action = "FINISH_PROCESS"
	opSendReminder   domain.Action = "SEND_REMINDER"
	opSetMapDeadline domain.Action = "SET_MAP_DEADLINE"
	opManageUnits    domain.Action = "MANAGE_UNITS"
)

func requireAdmin(actor domain.Actor, op domain.Action) error {
	if actor.Role != domain.RoleAdmin {
		return permission.ForbiddenError{Role: actor.Role, Action: op}
	}
	return nil
}

// scope is everything a subprocess operation needs, loaded inside one tx.
type scope struct {
	actor domain.Actor
	sp    domain.Subprocess
	tree  permission.Tree
}

func (e Engine) loadScope(ctx context.Context, tx *sql.Tx, subprocessID, actorID string) (scope, error) {
	actor, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return scope{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	sp, err := e.Repo.GetSubprocess(ctx, tx, subprocessID)
	if err != nil {
		return scope{}, fmt.Errorf("subprocess %s: %w", subprocessID, err)
	}
	units, err := e.Repo.ProcessTree(ctx, tx, sp.ProcessID)
	if err != nil {
		return scope{}, err
	}
	return scope{actor: actor, sp: sp, tree: permission.NewTree(units)}, nil
}

func (s scope) position() permission.Position {
	return permission.Position{
		Relation:  s.tree.Relate(s.actor.UnitID, s.sp.UnitID),
		Custodian: s.actor.UnitID == s.sp.CurrentUnitID,
	}
}

func (s scope) authorize(action domain.Action) error {
	return permission.Authorize(s.actor.Role, s.sp.Situation, s.position(), action)
}

func (s scope) sigla(unitID string) string {
	if u, ok := s.tree.Unit(unitID); ok {
		return u.Sigla
	}
	return unitID
}

func (e Engine) adminUnitID(ctx context.Context, tx *sql.Tx) (string, error) {
	sigla := e.cfg().Organization.AdminUnit
	u, err := e.Repo.GetUnitBySigla(ctx, tx, sigla)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("admin unit %s is not registered", sigla)
		}
		return "", err
	}
	return u.ID, nil
}

// emit hands alert requests to the emitter after commit. Failures stay here.
func (e Engine) emit(ctx context.Context, reqs []domain.AlertRequest) {
	if e.Alerts == nil {
		return
	}
	for _, req := range reqs {
		if err := e.Alerts.Emit(ctx, req); err != nil {
			e.Metrics.RecordAlertFailure(ctx, string(req.Kind))
			logging.With(e.logger().Warn(),
				logging.Process(req.ProcessID),
				logging.Unit(req.TargetUnitID),
				logging.Str("kind", string(req.Kind)),
				logging.Err(err),
			).Msg("alert emission failed")
		}
	}
}

func parseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q must be RFC3339 or YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}
