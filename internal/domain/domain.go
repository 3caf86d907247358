package domain

// ProcessKind identifies the campaign a process drives.
type ProcessKind string

const (
	KindMapping   ProcessKind = "MAPPING"
	KindRevision  ProcessKind = "REVISION"
	KindDiagnosis ProcessKind = "DIAGNOSIS"
)

func (k ProcessKind) Valid() bool {
	switch k {
	case KindMapping, KindRevision, KindDiagnosis:
		return true
	}
	return false
}

type ProcessStatus string

const (
	ProcessCreated    ProcessStatus = "CREATED"
	ProcessInProgress ProcessStatus = "IN_PROGRESS"
	ProcessFinished   ProcessStatus = "FINISHED"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleGestor   Role = "GESTOR"
	RoleChefe    Role = "CHEFE"
	RoleServidor Role = "SERVIDOR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleGestor, RoleChefe, RoleServidor:
		return true
	}
	return false
}

// Situation is the lifecycle state of a subprocess.
type Situation string

const (
	NotStarted Situation = "NOT_STARTED"

	CadastroInProgress  Situation = "CADASTRO_IN_PROGRESS"
	CadastroAvailable   Situation = "CADASTRO_AVAILABLE"
	CadastroAccepted    Situation = "CADASTRO_ACCEPTED"
	CadastroReturned    Situation = "CADASTRO_RETURNED"
	CadastroHomologated Situation = "CADASTRO_HOMOLOGATED"

	MapCreated         Situation = "MAP_CREATED"
	MapAvailable       Situation = "MAP_AVAILABLE"
	MapWithSuggestions Situation = "MAP_WITH_SUGGESTIONS"
	MapValidated       Situation = "MAP_VALIDATED"
	MapHomologated     Situation = "MAP_HOMOLOGATED"

	RevisionCadastroInProgress  Situation = "REVISION_CADASTRO_IN_PROGRESS"
	RevisionCadastroAvailable   Situation = "REVISION_CADASTRO_AVAILABLE"
	RevisionCadastroAccepted    Situation = "REVISION_CADASTRO_ACCEPTED"
	RevisionCadastroReturned    Situation = "REVISION_CADASTRO_RETURNED"
	RevisionCadastroHomologated Situation = "REVISION_CADASTRO_HOMOLOGATED"

	RevisionMapAdjusted        Situation = "REVISION_MAP_ADJUSTED"
	RevisionMapAvailable       Situation = "REVISION_MAP_AVAILABLE"
	RevisionMapWithSuggestions Situation = "REVISION_MAP_WITH_SUGGESTIONS"
	RevisionMapValidated       Situation = "REVISION_MAP_VALIDATED"
	RevisionMapHomologated     Situation = "REVISION_MAP_HOMOLOGATED"

	DiagnosisInProgress Situation = "DIAGNOSIS_IN_PROGRESS"
	DiagnosisConcluded  Situation = "DIAGNOSIS_CONCLUDED"
)

// Action is anything an actor can invoke on a subprocess. Only some actions
// move the situação; the rest are gates for reads and edits.
type Action string

const (
	ActionStart         Action = "START"
	ActionDisponibilize Action = "DISPONIBILIZE"
	ActionAccept        Action = "ACCEPT"
	ActionReturn        Action = "RETURN"
	ActionHomologate    Action = "HOMOLOGATE"
	ActionReopen        Action = "REOPEN"
	ActionSuggest       Action = "SUGGEST"
	ActionValidate      Action = "VALIDATE"
	ActionCreateMap     Action = "CREATE_MAP"
	ActionAdjustMap     Action = "ADJUST_MAP"
	ActionConclude      Action = "CONCLUDE"

	ActionView         Action = "VIEW"
	ActionEditCadastro Action = "EDIT_CADASTRO"
	ActionEditMap      Action = "EDIT_MAP"
	ActionViewImpact   Action = "VIEW_IMPACT"
)

type Unit struct {
	ID       string  `json:"id"`
	Sigla    string  `json:"sigla"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role" enum:"ADMIN,GESTOR,CHEFE,SERVIDOR"`
	UnitID    string `json:"unit_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Process struct {
	ID          string        `json:"id"`
	Kind        ProcessKind   `json:"kind" enum:"MAPPING,REVISION,DIAGNOSIS"`
	Description string        `json:"description"`
	Status      ProcessStatus `json:"status" enum:"CREATED,IN_PROGRESS,FINISHED"`
	Deadline    string        `json:"deadline" format:"date-time"`
	UnitIDs     []string      `json:"unit_ids"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	StartedAt   *string       `json:"started_at,omitempty" format:"date-time"`
	FinishedAt  *string       `json:"finished_at,omitempty" format:"date-time"`
}

type Subprocess struct {
	ID             string      `json:"id"`
	ProcessID      string      `json:"process_id"`
	UnitID         string      `json:"unit_id"`
	Situation      Situation   `json:"situation"`
	CurrentUnitID  string      `json:"current_unit_id"`
	PreviousUnitID *string     `json:"previous_unit_id,omitempty"`
	Stage1Deadline string      `json:"stage1_deadline" format:"date-time"`
	Stage1DoneAt   *string     `json:"stage1_done_at,omitempty" format:"date-time"`
	Stage2Deadline *string     `json:"stage2_deadline,omitempty" format:"date-time"`
	Stage2DoneAt   *string     `json:"stage2_done_at,omitempty" format:"date-time"`
	Version        int64       `json:"version"`
	Kind           ProcessKind `json:"kind"`
	UpdatedAt      string      `json:"updated_at" format:"date-time"`
}

type Activity struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Knowledge   []Knowledge `json:"knowledge"`
}

type Knowledge struct {
	ID          string `json:"id"`
	ActivityID  string `json:"activity_id"`
	Description string `json:"description"`
}

type Competency struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	ActivityIDs []string `json:"activity_ids"`
}

// Map is the competency map of one subprocess together with the activity
// catalogue its competencies reference.
type Map struct {
	SubprocessID string       `json:"subprocess_id"`
	UnitID       string       `json:"unit_id"`
	Competencies []Competency `json:"competencies"`
	Activities   []Activity   `json:"activities"`
	PublishedAt  *string      `json:"published_at,omitempty" format:"date-time"`
}

type Analysis struct {
	ID           int64  `json:"id"`
	SubprocessID string `json:"subprocess_id"`
	TS           string `json:"ts" format:"date-time"`
	UnitID       string `json:"unit_id"`
	Action       Action `json:"action"`
	ActorID      string `json:"actor_id"`
	Observation  string `json:"observation,omitempty"`
}

type Movement struct {
	ID            int64     `json:"id"`
	SubprocessID  string    `json:"subprocess_id"`
	TS            string    `json:"ts" format:"date-time"`
	OriginUnitID  string    `json:"origin_unit_id"`
	DestUnitID    string    `json:"destination_unit_id"`
	Description   string    `json:"description"`
	ActorID       string    `json:"actor_id"`
	FromSituation Situation `json:"from_situation"`
	ToSituation   Situation `json:"to_situation"`
}

// HistoryEntry is one ledger line: exactly one of Analysis or Movement is set.
type HistoryEntry struct {
	Seq      int64     `json:"seq"`
	TS       string    `json:"ts" format:"date-time"`
	Kind     string    `json:"kind" enum:"analysis,movement"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Movement *Movement `json:"movement,omitempty"`
}

type AlertKind string

const (
	AlertProcessStarted   AlertKind = "PROCESS_STARTED"
	AlertProcessFinished  AlertKind = "PROCESS_FINISHED"
	AlertSituationChanged AlertKind = "SITUATION_CHANGED"
	AlertReopened         AlertKind = "REOPENED"
	AlertReminder         AlertKind = "REMINDER"
)

type AlertRequest struct {
	TargetUnitID string    `json:"target_unit_id"`
	ProcessID    string    `json:"process_id"`
	SubprocessID string    `json:"subprocess_id,omitempty"`
	Message      string    `json:"message"`
	Kind         AlertKind `json:"kind"`
}

type Alert struct {
	ID      int64        `json:"id"`
	TS      string       `json:"ts" format:"date-time"`
	Request AlertRequest `json:"request"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProcessID  string `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Reminder is a subprocess whose current stage deadline is close or past.
type Reminder struct {
	SubprocessID    string    `json:"subprocess_id"`
	UnitID          string    `json:"unit_id"`
	Situation       Situation `json:"situation"`
	Deadline        string    `json:"deadline" format:"date-time"`
	DaysRemaining   int       `json:"days_remaining"`
	DaysInSituation int       `json:"days_in_situation"`
}
